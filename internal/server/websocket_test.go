package server

import (
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

func TestWebSocketJobFilter(t *testing.T) {
	srv := newTestServer(t, nil)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?job=wanted"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for srv.Hub().ClientCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	hub := srv.Hub()
	hub.publishJob(MessageTypeJobProgress, JobProgressMessage{JobID: "other", ProgressPercent: 10})
	hub.publishJob(MessageTypeJobProgress, JobProgressMessage{JobID: "wanted", ProgressPercent: 20})
	hub.BroadcastMessage(string(MessageTypeLLMRequest), map[string]string{"model": "m"})

	var got []Message
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for len(got) < 2 {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("ReadMessage() error = %v", err)
		}
		var m Message
		if err := json.Unmarshal(data, &m); err != nil {
			t.Fatal(err)
		}
		got = append(got, m)
	}

	if got[0].Type != MessageTypeJobProgress || got[0].JobID != "wanted" {
		t.Errorf("first message = %+v, want progress for the subscribed job", got[0])
	}
	if got[1].Type != MessageTypeLLMRequest || got[1].JobID != "" {
		t.Errorf("second message = %+v, want the global llm_request", got[1])
	}
}

func TestSubscriberWants(t *testing.T) {
	tests := []struct {
		filter, job string
		want        bool
	}{
		{"", "a", true},
		{"a", "a", true},
		{"a", "b", false},
		{"a", "", true},
	}
	for _, tt := range tests {
		s := &subscriber{job: tt.filter}
		if got := s.wants(Message{JobID: tt.job}); got != tt.want {
			t.Errorf("filter %q job %q = %v, want %v", tt.filter, tt.job, got, tt.want)
		}
	}
}

func TestLogHookTagsEntriesWithJob(t *testing.T) {
	tests := []struct {
		name   string
		fields logrus.Fields
		want   string
		doc    string
	}{
		{"job field", logrus.Fields{"job": "j1"}, "j1", ""},
		{"run field", logrus.Fields{"run": "r1", "document": "ch1.xhtml"}, "r1", "ch1.xhtml"},
		{"untagged", logrus.Fields{}, "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := logrus.New()
			logger.SetOutput(io.Discard)
			hub := NewHub(logger)
			logger.AddHook(NewLogHook(hub))

			logger.WithFields(tt.fields).Warn("kept original text")

			select {
			case msg := <-hub.publish:
				if msg.Type != MessageTypeLog || msg.JobID != tt.want {
					t.Errorf("message = %+v, want log for job %q", msg, tt.want)
				}
				if lm, ok := msg.Data.(LogMessage); !ok || lm.Document != tt.doc || lm.Level != "warning" {
					t.Errorf("Data = %+v", msg.Data)
				}
			case <-time.After(time.Second):
				t.Fatal("no message published")
			}
		})
	}
}
