package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
)

type eventFrame struct {
	Topic   string          `json:"topic"`
	Payload json.RawMessage `json:"payload"`
	SentAt  time.Time       `json:"sent_at"`
}

type taskBody struct {
	ID          int64  `json:"id"`
	Time        string `json:"time"`
	Content     string `json:"content"`
	IsCompleted bool   `json:"is_completed"`
}

func main() {
	base := flag.String("url", "http://127.0.0.1:5000", "gotodo server base URL")
	timeout := flag.Duration("timeout", 15*time.Second, "overall timeout")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if err := run(ctx, strings.TrimRight(*base, "/"), os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		fmt.Println("VERDICT FAIL")
		os.Exit(1)
	}
	fmt.Println("VERDICT PASS")
}

// run drives one task through create, complete and delete over HTTP and
// checks that each step is echoed on the event stream.
func run(ctx context.Context, base string, out io.Writer) error {
	var health map[string]any
	if status, err := doJSON(ctx, http.MethodGet, base+"/healthz", nil, &health); err != nil || status != http.StatusOK {
		return fmt.Errorf("healthz: status=%d err=%v", status, err)
	}
	if health["healthy"] != true {
		return fmt.Errorf("healthz reports unhealthy: %v", health)
	}
	fmt.Fprintln(out, "CHECK healthz ok")

	conn, _, err := websocket.Dial(ctx, wsURL(base)+"/ws?topic=task.", nil)
	if err != nil {
		return fmt.Errorf("dial ws: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "runtime smoke done")
	fmt.Fprintln(out, "CHECK ws connected")

	marker := uuid.NewString()[:8]
	req := map[string]string{
		"time":    "星期日 晚上11节",
		"content": "星期日 晚上11节 smoke-" + marker,
	}
	var created taskBody
	if status, err := doJSON(ctx, http.MethodPost, base+"/api/tasks", req, &created); err != nil || status != http.StatusCreated {
		return fmt.Errorf("create task: status=%d err=%v", status, err)
	}
	if err := waitForTopic(ctx, conn, "task.created", created.ID); err != nil {
		return err
	}
	fmt.Fprintf(out, "CHECK task created id=%d\n", created.ID)

	id := strconv.FormatInt(created.ID, 10)
	var completed []taskBody
	if status, err := doJSON(ctx, http.MethodPut, base+"/api/tasks/"+id+"/complete", nil, &completed); err != nil || status != http.StatusOK {
		return fmt.Errorf("complete task: status=%d err=%v", status, err)
	}
	if err := waitForTopic(ctx, conn, "task.completed", created.ID); err != nil {
		return err
	}
	fmt.Fprintf(out, "CHECK task completed id=%d\n", created.ID)

	if status, err := doJSON(ctx, http.MethodDelete, base+"/api/tasks/"+id, nil, nil); err != nil || status != http.StatusOK {
		return fmt.Errorf("delete task: status=%d err=%v", status, err)
	}
	if err := waitForTopic(ctx, conn, "task.deleted", created.ID); err != nil {
		return err
	}
	if status, _ := doJSON(ctx, http.MethodGet, base+"/api/tasks/"+id, nil, nil); status != http.StatusNotFound {
		return fmt.Errorf("deleted task still readable: status=%d", status)
	}
	fmt.Fprintf(out, "CHECK task deleted id=%d\n", created.ID)
	return nil
}

func doJSON(ctx context.Context, method, url string, in, out any) (int, error) {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return 0, err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return 0, err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if out == nil || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return resp.StatusCode, nil
	}
	return resp.StatusCode, json.NewDecoder(resp.Body).Decode(out)
}

// waitForTopic reads frames until one with topic carries taskID. Frames
// for other tasks are skipped so a busy server does not fail the run.
func waitForTopic(ctx context.Context, conn *websocket.Conn, topic string, taskID int64) error {
	for {
		var frame eventFrame
		if err := wsjson.Read(ctx, conn, &frame); err != nil {
			return fmt.Errorf("waiting for %s: %w", topic, err)
		}
		if frame.Topic != topic {
			continue
		}
		id, err := payloadTaskID(frame.Payload)
		if err != nil {
			return fmt.Errorf("%s payload: %w", topic, err)
		}
		if id == taskID {
			return nil
		}
	}
}

func payloadTaskID(raw json.RawMessage) (int64, error) {
	var payload struct {
		TaskID *int64 `json:"task_id"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return 0, err
	}
	if payload.TaskID == nil {
		return 0, fmt.Errorf("missing field %q", "task_id")
	}
	return *payload.TaskID, nil
}

func wsURL(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	default:
		return "ws://" + base
	}
}
