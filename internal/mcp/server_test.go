package mcp

import (
	"bufio"
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

type testReply struct {
	ID     json.RawMessage `json:"id"`
	Result interface{}     `json:"result"`
	Error  *rpcError       `json:"error"`
}

func serve(t *testing.T, lines ...string) []testReply {
	t.Helper()
	in := strings.NewReader(strings.Join(lines, "\n") + "\n")
	var out bytes.Buffer
	s := NewServer(newTestRegistry(&fakeBackend{}), "1.2.3", in, &out, nil)
	if err := s.Run(); err != nil {
		t.Fatalf("run: %v", err)
	}

	var resps []testReply
	sc := bufio.NewScanner(&out)
	for sc.Scan() {
		var r testReply
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			t.Fatalf("decode %q: %v", sc.Text(), err)
		}
		resps = append(resps, r)
	}
	return resps
}

func TestServerInitialize(t *testing.T) {
	resps := serve(t,
		`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2024-11-05"}}`,
		`{"jsonrpc":"2.0","method":"notifications/initialized"}`,
	)
	if len(resps) != 1 {
		t.Fatalf("got %d responses, want 1", len(resps))
	}
	result := resps[0].Result.(map[string]interface{})
	info := result["serverInfo"].(map[string]interface{})
	if info["name"] != "qrun" || info["version"] != "1.2.3" {
		t.Errorf("serverInfo = %v", info)
	}
	if result["protocolVersion"] != ProtocolVersion {
		t.Errorf("protocolVersion = %v", result["protocolVersion"])
	}
}

func TestServerToolsListAndCall(t *testing.T) {
	resps := serve(t,
		`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`,
		`{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"status","arguments":{}}}`,
		`{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"start","arguments":{}}}`,
	)
	if len(resps) != 3 {
		t.Fatalf("got %d responses, want 3", len(resps))
	}

	tools := resps[0].Result.(map[string]interface{})["tools"].([]interface{})
	if len(tools) != 6 {
		t.Errorf("tools = %d, want 6", len(tools))
	}

	status := resps[1].Result.(map[string]interface{})
	if status["isError"] == true {
		t.Errorf("status failed: %v", status)
	}

	start := resps[2].Result.(map[string]interface{})
	if start["isError"] != true {
		t.Errorf("start without command should be an error result: %v", start)
	}
}

func TestServerErrors(t *testing.T) {
	resps := serve(t,
		`not json`,
		`{"jsonrpc":"2.0","id":7,"method":"resources/list"}`,
		`{"jsonrpc":"2.0","id":8,"method":"tools/call","params":"oops"}`,
	)
	if len(resps) != 3 {
		t.Fatalf("got %d responses, want 3", len(resps))
	}
	wantCodes := []int{-32700, -32601, -32602}
	for i, code := range wantCodes {
		if resps[i].Error == nil || resps[i].Error.Code != code {
			t.Errorf("response %d: error = %+v, want code %d", i, resps[i].Error, code)
		}
	}
}

func TestServerPing(t *testing.T) {
	resps := serve(t, `{"jsonrpc":"2.0","id":"a","method":"ping"}`)
	if len(resps) != 1 || resps[0].Error != nil || string(resps[0].ID) != `"a"` {
		t.Fatalf("unexpected ping response %+v", resps)
	}
}

func TestServerNotificationsGetNoReply(t *testing.T) {
	resps := serve(t,
		`{"jsonrpc":"2.0","method":"notifications/cancelled","params":{"requestId":1}}`,
		`{"jsonrpc":"2.0","method":"resources/list"}`,
		`{"jsonrpc":"2.0","id":4,"method":"ping"}`,
	)
	if len(resps) != 1 || string(resps[0].ID) != "4" {
		t.Fatalf("unexpected responses %+v", resps)
	}
}
