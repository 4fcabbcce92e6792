package container

// RuntimeInfo contains information about a supported function runtime env.
type RuntimeInfo struct {
	Image         string
	InvocationCmd []string
}

const GO_RUNTIME = "go"

var RuntimeToInfo = map[string]RuntimeInfo{
	GO_RUNTIME: {"smartlambda/executor", []string{"/smartlambda-executor"}},
}

// imageFor returns the image serving a runtime, honoring executor.image.
func imageFor(runtime, configured string) (RuntimeInfo, bool) {
	info, ok := RuntimeToInfo[runtime]
	if !ok {
		return RuntimeInfo{}, false
	}
	if configured != "" {
		info.Image = configured
	}
	return info, true
}
