package container

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/serverledge-faas/smartlambda/internal/config"
	"github.com/sirupsen/logrus"
)

// DockerFactory runs each worker in a fresh container, talking to it through
// the attached stdin and stdout streams.
type DockerFactory struct {
	cli   *client.Client
	image string
}

func InitDockerContainerFactory() (*DockerFactory, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, err
	}
	return &DockerFactory{cli: cli, image: config.GetString(config.EXECUTOR_IMAGE, "")}, nil
}

type dockerWorker struct {
	cf       *DockerFactory
	id       string
	attached types.HijackedResponse
	stdout   *io.PipeReader
	stdin    *hijackedStdin
	done     sync.Once
	err      error
}

func (cf *DockerFactory) Spawn(ctx context.Context, opts *WorkerOptions) (Worker, error) {
	info, ok := imageFor(opts.Runtime, cf.image)
	if !ok {
		return nil, fmt.Errorf("unsupported runtime %q", opts.Runtime)
	}
	if !cf.HasImage(ctx, info.Image) {
		// error ignored, as we might still have a stale copy of the image
		_ = cf.PullImage(ctx, info.Image)
	}

	resp, err := cf.cli.ContainerCreate(ctx, &container.Config{
		Image:        info.Image,
		Cmd:          info.InvocationCmd,
		Env:          opts.Env,
		Tty:          false,
		OpenStdin:    true,
		StdinOnce:    true,
		AttachStdin:  true,
		AttachStdout: true,
		AttachStderr: true,
	}, &container.HostConfig{
		Resources: container.Resources{Memory: opts.MemoryMB * 1048576}, // convert to bytes
	}, nil, nil, "")
	if err != nil {
		return nil, fmt.Errorf("could not create the container: %w", err)
	}
	id := resp.ID

	attached, err := cf.cli.ContainerAttach(ctx, id, container.AttachOptions{
		Stream: true,
		Stdin:  true,
		Stdout: true,
		Stderr: true,
	})
	if err != nil {
		cf.remove(id)
		return nil, fmt.Errorf("could not attach to container %s: %w", id, err)
	}

	if err := cf.cli.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		attached.Close()
		cf.remove(id)
		return nil, fmt.Errorf("could not start container %s: %w", id, err)
	}

	// demultiplex the attached stream: stdout is the protocol, stderr goes to the log
	pr, pw := io.Pipe()
	stderr := logrus.WithField("container", id[:12]).WriterLevel(logrus.DebugLevel)
	go func() {
		_, err := stdcopy.StdCopy(pw, stderr, attached.Reader)
		_ = stderr.Close()
		_ = pw.CloseWithError(err)
	}()

	return &dockerWorker{
		cf:       cf,
		id:       id,
		attached: attached,
		stdout:   pr,
		stdin:    &hijackedStdin{resp: &attached},
	}, nil
}

func (w *dockerWorker) Stdin() io.WriteCloser { return w.stdin }

func (w *dockerWorker) Stdout() io.Reader { return w.stdout }

func (w *dockerWorker) Wait() error {
	w.done.Do(func() {
		statusCh, errCh := w.cf.cli.ContainerWait(context.Background(), w.id, container.WaitConditionNotRunning)
		select {
		case st := <-statusCh:
			if st.StatusCode != 0 {
				w.err = fmt.Errorf("container %s exited with status %d", w.id, st.StatusCode)
			}
		case err := <-errCh:
			w.err = err
		}
		w.release()
	})
	return w.err
}

func (w *dockerWorker) Kill() error {
	w.done.Do(w.release)
	return nil
}

func (w *dockerWorker) release() {
	w.attached.Close()
	_ = w.stdout.Close()
	w.cf.remove(w.id)
}

func (cf *DockerFactory) remove(id string) {
	// force set to true causes running container to be killed (and then removed)
	err := cf.cli.ContainerRemove(context.Background(), id, container.RemoveOptions{Force: true})
	if err != nil {
		logrus.Warnf("Could not remove container %s: %v", id, err)
	}
}

type hijackedStdin struct {
	resp *types.HijackedResponse
}

func (s *hijackedStdin) Write(p []byte) (int, error) {
	return s.resp.Conn.Write(p)
}

// Close half-closes the connection so that the worker sees EOF on stdin.
func (s *hijackedStdin) Close() error {
	return s.resp.CloseWrite()
}

var mutex = sync.Mutex{}

func (cf *DockerFactory) HasImage(ctx context.Context, img string) bool {
	mutex.Lock()
	list, err := cf.cli.ImageList(ctx, image.ListOptions{})
	mutex.Unlock()
	if err != nil {
		logrus.Warnf("image list error: %v", err)
		return false
	}
	for _, summary := range list {
		for _, tag := range summary.RepoTags {
			if strings.HasPrefix(tag, img) {
				return true
			}
		}
	}
	return false
}

func (cf *DockerFactory) PullImage(ctx context.Context, img string) error {
	pullResp, err := cf.cli.ImagePull(ctx, img, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("could not pull image '%s': %w", img, err)
	}
	defer pullResp.Close()

	// the pull completes only once the progress stream is drained
	_, _ = io.Copy(io.Discard, pullResp)
	logrus.Infof("Pulled image: %s", img)
	return nil
}
