package utils

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

var httpClient = &http.Client{Timeout: 5 * time.Minute}

func checkStatus(resp *http.Response) (*http.Response, error) {
	if resp.StatusCode != http.StatusOK {
		return resp, fmt.Errorf("server response: %v", resp.Status)
	}
	return resp, nil
}

func PostJson(url string, body []byte) (*http.Response, error) {
	resp, err := httpClient.Post(url, "application/json", bytes.NewBuffer(body))
	if err != nil {
		return nil, err
	}
	return checkStatus(resp)
}

func GetJson(url string) (*http.Response, error) {
	resp, err := httpClient.Get(url)
	if err != nil {
		return nil, err
	}
	return checkStatus(resp)
}

func DeleteRequest(url string) (*http.Response, error) {
	req, err := http.NewRequest(http.MethodDelete, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	return checkStatus(resp)
}

// PrintJsonResponse prints the indented body to stdout and closes it.
func PrintJsonResponse(resp io.ReadCloser) {
	defer resp.Close()
	body, _ := io.ReadAll(resp)

	var out bytes.Buffer
	if err := json.Indent(&out, body, "", "\t"); err != nil {
		_, _ = os.Stdout.Write(body)
		return
	}
	out.WriteString("\n")
	_, _ = out.WriteTo(os.Stdout)
}
