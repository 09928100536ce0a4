package ws

import (
	"encoding/json"
	"fmt"
	"sort"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/shared-code-editor/backend/internal/session"
)

// collect decodes every queued frame without a *testing.T, for use inside
// property functions.
func collect(client *Client) []received {
	var out []received
	for {
		select {
		case data, ok := <-client.SendChan():
			if !ok {
				return out
			}
			var msg received
			if err := json.Unmarshal(data, &msg); err == nil {
				out = append(out, msg)
			}
		default:
			return out
		}
	}
}

// joinedSession joins n clients to one session on a fresh handler and
// discards the join traffic.
func joinedSession(n int) (*Handler, []*Client) {
	store := session.NewStore(session.Config{})
	h := NewHandler(store, NewHubManager(), HandlerConfig{})

	clients := make([]*Client, n)
	for i := range clients {
		clients[i] = NewClient(nil, 64)
		data, _ := json.Marshal(joinMsg("prop", fmt.Sprintf("u%d", i)))
		h.HandleMessage(clients[i], data)
	}
	for _, c := range clients {
		collect(c)
	}
	return h, clients
}

// Property: relay scope.
// A content-change reaches every other participant of the session exactly
// once and is never echoed to its sender; a file-upload reaches everyone,
// the sender included.
func TestRelayScopeProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("content-change goes to everyone but the sender", prop.ForAll(
		func(n, senderIdx int, content string) bool {
			h, clients := joinedSession(n)
			sender := clients[senderIdx%n]

			data, _ := json.Marshal(map[string]any{"type": "content-change", "sessionId": "prop", "content": content})
			h.HandleMessage(sender, data)

			for _, c := range clients {
				got := collect(c)
				if c == sender {
					if len(got) != 0 {
						return false
					}
					continue
				}
				if len(got) != 1 || got[0].Type != MessageTypeContentChange || got[0].Content == nil || *got[0].Content != content {
					return false
				}
			}
			return true
		},
		gen.IntRange(2, 6),
		gen.IntRange(0, 5),
		gen.AlphaString(),
	))

	properties.Property("file-upload goes to everyone", prop.ForAll(
		func(n, senderIdx int, fileID string) bool {
			h, clients := joinedSession(n)
			sender := clients[senderIdx%n]

			data, _ := json.Marshal(map[string]any{
				"type": "file-upload", "sessionId": "prop",
				"file": map[string]any{"id": fileID, "name": "a.txt", "content": "x", "isTextFile": true},
			})
			h.HandleMessage(sender, data)

			for _, c := range clients {
				got := collect(c)
				if len(got) != 1 || got[0].Type != MessageTypeFileListUpdate {
					return false
				}
				if len(got[0].Files) != 1 || got[0].Files[0].ID != fileID {
					return false
				}
			}
			return true
		},
		gen.IntRange(1, 6),
		gen.IntRange(0, 5),
		gen.Identifier(),
	))

	properties.TestingRun(t)
}

// Property: file-list snapshots.
// After any sequence of uploads and deletes, the last file-list-update each
// participant received lists exactly the files that remain.
func TestFileListSnapshotProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("last snapshot matches the remaining files", prop.ForAll(
		func(ops []int) bool {
			if len(ops) == 0 {
				return true
			}
			h, clients := joinedSession(2)
			expected := map[string]bool{}

			for i, op := range ops {
				// Small id space so deletes hit existing files.
				id := fmt.Sprintf("f%d", op/2)
				var msg map[string]any
				if op%2 == 0 {
					msg = map[string]any{
						"type": "file-upload", "sessionId": "prop",
						"file": map[string]any{"id": id, "name": "a.txt", "content": "x", "isTextFile": true},
					}
					expected[id] = true
				} else {
					msg = map[string]any{"type": "file-delete", "sessionId": "prop", "fileId": id}
					delete(expected, id)
				}
				data, _ := json.Marshal(msg)
				h.HandleMessage(clients[i%2], data)
			}

			want := make([]string, 0, len(expected))
			for id := range expected {
				want = append(want, id)
			}
			sort.Strings(want)

			for _, c := range clients {
				got := collect(c)
				if len(got) == 0 {
					return false
				}
				last := got[len(got)-1]
				ids := make([]string, 0, len(last.Files))
				for _, f := range last.Files {
					ids = append(ids, f.ID)
				}
				sort.Strings(ids)
				if fmt.Sprint(ids) != fmt.Sprint(want) {
					return false
				}
			}
			return true
		},
		gen.SliceOfN(20, gen.IntRange(0, 7)),
	))

	properties.TestingRun(t)
}
