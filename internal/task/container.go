package task

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/moby/moby/api/types/container"
	"github.com/moby/moby/api/types/mount"
	"github.com/moby/moby/client"

	"github.com/crucible-bench/crucible/internal/cost"
)

// ContainerUnit runs a framework image per execution. The exchange
// protocol is file-based: /bench/request.json in, /bench/response.json
// out, with usage events optionally streamed to /bench/usage.jsonl for
// frameworks that cannot buffer them until exit.
type ContainerUnit struct {
	Image    string
	Command  []string
	Env      map[string]string
	WorkDir  string
	CPULimit float64
	MemLimit int64
}

func (u *ContainerUnit) Execute(ctx context.Context, input string) (*Result, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, Errorf(KindFatal, "creating docker client: %v", err)
	}
	defer cli.Close()

	exchangeDir, err := os.MkdirTemp(u.WorkDir, "cell-")
	if err != nil {
		return nil, Errorf(KindFatal, "creating exchange dir: %v", err)
	}
	defer os.RemoveAll(exchangeDir)

	reqData, err := json.Marshal(request{Input: input})
	if err != nil {
		return nil, Errorf(KindValidation, "encoding request: %v", err)
	}
	if err := os.WriteFile(filepath.Join(exchangeDir, "request.json"), reqData, 0o644); err != nil {
		return nil, Errorf(KindFatal, "writing request: %v", err)
	}

	envSlice := make([]string, 0, len(u.Env)+1)
	envSlice = append(envSlice, "BENCH_DIR=/bench")
	for k, v := range u.Env {
		envSlice = append(envSlice, k+"="+v)
	}

	hostCfg := &container.HostConfig{
		Mounts: []mount.Mount{{
			Type:   mount.TypeBind,
			Source: exchangeDir,
			Target: "/bench",
		}},
	}
	if u.CPULimit > 0 {
		hostCfg.NanoCPUs = int64(u.CPULimit * 1e9)
	}
	if u.MemLimit > 0 {
		hostCfg.Memory = u.MemLimit
	}

	createResp, err := cli.ContainerCreate(ctx, client.ContainerCreateOptions{
		Config: &container.Config{
			Image:  u.Image,
			Cmd:    u.Command,
			Env:    envSlice,
			Labels: map[string]string{"crucible": "true"},
		},
		HostConfig: hostCfg,
	})
	if err != nil {
		return nil, Errorf(KindFatal, "creating container: %v", err)
	}
	containerID := createResp.ID
	defer func() {
		cli.ContainerRemove(context.Background(), containerID, client.ContainerRemoveOptions{Force: true})
	}()

	if _, err := cli.ContainerStart(ctx, containerID, client.ContainerStartOptions{}); err != nil {
		return nil, Errorf(KindFatal, "starting container: %v", err)
	}

	waitResult := cli.ContainerWait(ctx, containerID, client.ContainerWaitOptions{
		Condition: container.WaitConditionNotRunning,
	})
	for {
		select {
		case err := <-waitResult.Error:
			if err != nil {
				cli.ContainerKill(context.Background(), containerID, client.ContainerKillOptions{Signal: "SIGKILL"})
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				return nil, Errorf(KindTransient, "waiting for container: %v", err)
			}
		case status := <-waitResult.Result:
			if status.StatusCode != 0 {
				return nil, classifyExit(int(status.StatusCode), containerLogs(cli, containerID))
			}
			return u.readResponse(exchangeDir)
		}
	}
}

func (u *ContainerUnit) readResponse(exchangeDir string) (*Result, error) {
	data, err := os.ReadFile(filepath.Join(exchangeDir, "response.json"))
	if err != nil {
		return nil, Errorf(KindValidation, "container produced no response: %v", err)
	}
	res, err := decodeResponse(data)
	if err != nil {
		return nil, err
	}
	// Merge streamed usage events, if the framework wrote any.
	if events, err := ParseUsageLog(filepath.Join(exchangeDir, "usage.jsonl")); err == nil {
		res.UsageEvents = append(res.UsageEvents, events...)
	}
	return res, nil
}

func containerLogs(cli *client.Client, containerID string) string {
	reader, err := cli.ContainerLogs(context.Background(), containerID, client.ContainerLogsOptions{
		ShowStdout: true, ShowStderr: true, Tail: "20",
	})
	if err != nil {
		return ""
	}
	defer reader.Close()
	var out []byte
	buf := make([]byte, 4096)
	for {
		n, err := reader.Read(buf)
		out = append(out, buf[:n]...)
		if err != nil || len(out) > 16*1024 {
			break
		}
	}
	return string(out)
}

// ParseUsageLog reads a JSONL stream of usage events. Lines that do not
// parse or lack a model are skipped, matching the tolerant handling of
// framework-emitted logs.
func ParseUsageLog(path string) ([]cost.UsageEvent, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading usage log: %w", err)
	}
	defer f.Close()

	var events []cost.UsageEvent
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var ev cost.UsageEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			continue
		}
		if ev.Model != "" {
			events = append(events, ev)
		}
	}
	return events, scanner.Err()
}
