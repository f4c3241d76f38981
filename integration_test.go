package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"
)

// ---------- helpers ----------

type testServer struct {
	srv     *httptest.Server
	wsURL   string
	hub     *Hub
	lobbies *LobbyManager
}

// startTestServer spins up an httptest.Server with a Hub and no database
func startTestServer(t *testing.T) *testServer {
	t.Helper()

	// Create a temp client dir with a minimal index.html
	tmpDir := t.TempDir()
	jsDir := filepath.Join(tmpDir, "js")
	os.MkdirAll(jsDir, 0o755)
	os.WriteFile(filepath.Join(tmpDir, "index.html"), []byte("<html>test</html>"), 0o644)
	os.WriteFile(filepath.Join(jsDir, "main.js"), []byte("// test"), 0o644)

	cfg := &Config{
		ClientDir: tmpDir,
		PublicURL: "http://agawan.test/",
		Game:      testGameConfig(),
		Lobby:     DefaultLobbyConfig(),
	}
	lobbies := NewLobbyManager(cfg.Lobby, cfg.Game, nil, nil)
	hub := NewHub(lobbies, nil, nil, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	srv := httptest.NewServer(SetupRoutes(hub, cfg))
	t.Cleanup(func() {
		srv.Close()
		cancel()
		lobbies.Shutdown()
	})

	return &testServer{
		srv:     srv,
		wsURL:   "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws",
		hub:     hub,
		lobbies: lobbies,
	}
}

// dialWS opens a WebSocket connection to the test server
func dialWS(t *testing.T, wsURL string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial WS: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// wireMsg is an inbound frame with its payload left raw
type wireMsg struct {
	T      string          `json:"t"`
	D      json.RawMessage `json:"d"`
	Binary bool            `json:"-"`
}

// readMsg reads one frame. Binary frames are msgpack with json field names;
// their payload is re-encoded as JSON so callers decode both the same way.
func readMsg(t *testing.T, conn *websocket.Conn) wireMsg {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	msgType, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read WS: %v", err)
	}
	if msgType == websocket.BinaryMessage {
		dec := msgpack.NewDecoder(bytes.NewReader(raw))
		dec.SetCustomStructTag("json")
		var m map[string]interface{}
		if err := dec.Decode(&m); err != nil {
			t.Fatalf("msgpack decode: %v", err)
		}
		d, err := json.Marshal(m["d"])
		if err != nil {
			t.Fatalf("re-encode payload: %v", err)
		}
		typ, _ := m["t"].(string)
		return wireMsg{T: typ, D: d, Binary: true}
	}
	var msg wireMsg
	if err := json.Unmarshal(raw, &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return msg
}

// readUntil skips frames until one of type msgType arrives
func readUntil(t *testing.T, conn *websocket.Conn, msgType string) wireMsg {
	t.Helper()
	for i := 0; i < 50; i++ {
		if msg := readMsg(t, conn); msg.T == msgType {
			return msg
		}
	}
	t.Fatalf("no %s within 50 frames", msgType)
	return wireMsg{}
}

// sendMsg sends a typed message over the WebSocket
func sendMsg(t *testing.T, conn *websocket.Conn, msgType string, data interface{}) {
	t.Helper()
	raw, _ := json.Marshal(Envelope{T: msgType, Data: data})
	if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		t.Fatalf("write WS: %v", err)
	}
}

func decodeData(t *testing.T, msg wireMsg, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(msg.D, v); err != nil {
		t.Fatalf("decode %s payload: %v", msg.T, err)
	}
}

// createLobby creates a lobby and returns the created payload
func createLobby(t *testing.T, conn *websocket.Conn, username string) LobbyEnteredMsg {
	t.Helper()
	sendMsg(t, conn, MsgCreateLobby, map[string]interface{}{"username": username})
	var created LobbyEnteredMsg
	decodeData(t, readUntil(t, conn, MsgLobbyCreated), &created)
	return created
}

func expectError(t *testing.T, conn *websocket.Conn, code ErrorCode) ServerErrorMsg {
	t.Helper()
	var e ServerErrorMsg
	decodeData(t, readUntil(t, conn, MsgServerError), &e)
	if e.Code != code {
		t.Errorf("expected %s, got %+v", code, e)
	}
	return e
}

// joinLobby joins code and returns the joined payload
func joinLobby(t *testing.T, conn *websocket.Conn, username, code string) LobbyEnteredMsg {
	t.Helper()
	sendMsg(t, conn, MsgJoinLobby, map[string]string{"username": username, "lobbyId": code})
	var joined LobbyEnteredMsg
	decodeData(t, readUntil(t, conn, MsgLobbyJoined), &joined)
	return joined
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// ---------- lobby flow ----------

func TestCreateAndJoinLobby(t *testing.T) {
	ts := startTestServer(t)

	c1 := dialWS(t, ts.wsURL)
	sendMsg(t, c1, MsgCreateLobby, map[string]interface{}{"username": "Alice"})

	// the room announces the creator before the create reply goes out
	var m MembershipMsg
	decodeData(t, readUntil(t, c1, MsgPlayerJoined), &m)
	if m.Username != "Alice" || m.PlayerCount != 1 {
		t.Errorf("expected own join first, got %+v", m)
	}
	var created LobbyEnteredMsg
	decodeData(t, readUntil(t, c1, MsgLobbyCreated), &created)
	if len(created.LobbyID) != 6 || created.PlayerID == "" {
		t.Fatalf("unexpected created payload %+v", created)
	}
	if len(created.RoomState.Players) != 1 || !created.RoomState.Players[0].IsHost {
		t.Errorf("creator should be the only player and host: %+v", created.RoomState.Players)
	}

	c2 := dialWS(t, ts.wsURL)
	sendMsg(t, c2, MsgJoinLobby, map[string]string{"username": "Bob", "lobbyId": strings.ToLower(created.LobbyID)})
	var joined LobbyEnteredMsg
	decodeData(t, readUntil(t, c2, MsgLobbyJoined), &joined)
	if joined.LobbyID != created.LobbyID {
		t.Errorf("joined %s, want %s", joined.LobbyID, created.LobbyID)
	}
	if len(joined.RoomState.Players) != 2 || joined.RoomState.Players[1].Team != TeamBlue {
		t.Errorf("unexpected room state %+v", joined.RoomState.Players)
	}

	decodeData(t, readUntil(t, c1, MsgPlayerJoined), &m)
	if m.Username != "Bob" || m.PlayerCount != 2 {
		t.Errorf("unexpected join %+v", m)
	}
}

func TestJoinInvalidCode(t *testing.T) {
	ts := startTestServer(t)
	c := dialWS(t, ts.wsURL)

	sendMsg(t, c, MsgJoinLobby, map[string]string{"username": "Lost", "lobbyId": "nope"})
	expectError(t, c, CodeInvalidLobbyCode)

	sendMsg(t, c, MsgJoinLobby, map[string]string{"username": "Lost", "lobbyId": "ZZZZZZ"})
	expectError(t, c, CodeLobbyNotFound)
}

func TestBadMessages(t *testing.T) {
	ts := startTestServer(t)
	c := dialWS(t, ts.wsURL)

	sendMsg(t, c, "launchMissiles", nil)
	expectError(t, c, CodeBadMessage)

	c.WriteMessage(websocket.TextMessage, []byte("{not json"))
	if e := expectError(t, c, CodeBadMessage); e.Message != "Malformed message" {
		t.Errorf("decoder detail leaked to the client: %q", e.Message)
	}

	sendMsg(t, c, MsgLeaveLobby, nil)
	expectError(t, c, CodeNotInLobby)

	sendMsg(t, c, MsgLogin, map[string]string{"username": "a", "password": "b"})
	expectError(t, c, CodeAuthFailed)
}

func TestLeaveLobby(t *testing.T) {
	ts := startTestServer(t)
	c := dialWS(t, ts.wsURL)
	created := createLobby(t, c, "Solo")

	sendMsg(t, c, MsgLeaveLobby, nil)
	var left LobbyLeftMsg
	decodeData(t, readUntil(t, c, MsgLobbyLeft), &left)
	if left.LobbyID != created.LobbyID {
		t.Errorf("left %s, want %s", left.LobbyID, created.LobbyID)
	}
	if ts.lobbies.Get(created.LobbyID) != nil {
		t.Error("empty lobby should be removed")
	}
}

func TestSwitchingLobbiesLeavesPrevious(t *testing.T) {
	ts := startTestServer(t)

	alice := dialWS(t, ts.wsURL)
	first := createLobby(t, alice, "Alice")
	joinLobby(t, dialWS(t, ts.wsURL), "Carol", first.LobbyID)
	second := createLobby(t, dialWS(t, ts.wsURL), "Bob")

	joined := joinLobby(t, alice, "Alice", second.LobbyID)
	if joined.PlayerID != first.PlayerID {
		t.Fatalf("connection id changed: %s vs %s", joined.PlayerID, first.PlayerID)
	}
	a := ts.lobbies.Get(first.LobbyID)
	if a == nil {
		t.Fatal("first lobby still has Carol and should survive")
	}
	if a.HasPlayer(first.PlayerID) || a.PlayerCount() != 1 {
		t.Errorf("first lobby kept the switching player: count %d", a.PlayerCount())
	}
	if b := ts.lobbies.Get(second.LobbyID); b == nil || !b.HasPlayer(first.PlayerID) {
		t.Fatal("second lobby should hold the player")
	}

	// creating a new lobby leaves the current one as well
	third := createLobby(t, alice, "Alice")
	if ts.lobbies.Get(second.LobbyID).HasPlayer(first.PlayerID) {
		t.Error("second lobby kept the player after a create")
	}
	if !ts.lobbies.Get(third.LobbyID).HasPlayer(first.PlayerID) {
		t.Error("new lobby should hold its creator")
	}
}

func TestListLobbies(t *testing.T) {
	ts := startTestServer(t)
	c := dialWS(t, ts.wsURL)

	sendMsg(t, c, MsgListLobbies, nil)
	var list []LobbyInfo
	decodeData(t, readUntil(t, c, MsgLobbyList), &list)
	if len(list) != 0 {
		t.Errorf("expected no lobbies, got %+v", list)
	}

	created := createLobby(t, dialWS(t, ts.wsURL), "Host")
	sendMsg(t, c, MsgListLobbies, nil)
	decodeData(t, readUntil(t, c, MsgLobbyList), &list)
	if len(list) != 1 || list[0].ID != created.LobbyID || list[0].HostUsername != "Host" {
		t.Errorf("unexpected list %+v", list)
	}
}

func TestDisconnectLeavesRoom(t *testing.T) {
	ts := startTestServer(t)
	c1 := dialWS(t, ts.wsURL)
	created := createLobby(t, c1, "Stay")

	c2 := dialWS(t, ts.wsURL)
	sendMsg(t, c2, MsgJoinLobby, map[string]string{"username": "Go", "lobbyId": created.LobbyID})
	readUntil(t, c2, MsgLobbyJoined)
	c2.Close()

	var m MembershipMsg
	decodeData(t, readUntil(t, c1, MsgPlayerLeft), &m)
	if m.Username != "Go" || m.PlayerCount != 1 {
		t.Errorf("unexpected leave %+v", m)
	}

	c1.Close()
	waitFor(t, "empty room removal", func() bool { return ts.lobbies.Get(created.LobbyID) == nil })
	waitFor(t, "client count", func() bool { return ts.hub.ClientCount() == 0 })
}

func TestMsgpackRoomState(t *testing.T) {
	ts := startTestServer(t)
	c := dialWS(t, ts.wsURL+"?codec=msgpack")

	sendMsg(t, c, MsgCreateLobby, map[string]interface{}{"username": "Packer"})
	msg := readUntil(t, c, MsgRoomState)
	if !msg.Binary {
		t.Fatal("room state should arrive as a binary frame")
	}
	var state RoomState
	decodeData(t, msg, &state)
	if state.GameState != PhaseLobby || len(state.Players) != 1 || state.Players[0].Username != "Packer" {
		t.Errorf("unexpected state %+v", state)
	}

	// other messages stay JSON
	if created := readUntil(t, c, MsgLobbyCreated); created.Binary {
		t.Error("lobbyCreated should be a text frame")
	}
}

// ---------- HTTP routes ----------

func TestSPARouting(t *testing.T) {
	ts := startTestServer(t)

	tests := []struct {
		path   string
		status int
		body   string
	}{
		{"/", 200, "<html>"},
		{"/K7PQ2M", 200, "<html>"},
		{"/js/main.js", 200, "// test"},
		{"/not-a-code", 404, ""},
		{"/K7PQ2", 404, ""},
	}
	for _, tt := range tests {
		resp, err := http.Get(ts.srv.URL + tt.path)
		if err != nil {
			t.Fatal(err)
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		if resp.StatusCode != tt.status {
			t.Errorf("GET %s status = %d, want %d", tt.path, resp.StatusCode, tt.status)
		}
		if tt.body != "" && !strings.Contains(string(body), tt.body) {
			t.Errorf("GET %s body = %q", tt.path, body)
		}
	}
}

func TestHealthAndLobbiesAPI(t *testing.T) {
	ts := startTestServer(t)
	createLobby(t, dialWS(t, ts.wsURL), "Host")
	waitFor(t, "client registration", func() bool { return ts.hub.ClientCount() == 1 })

	resp, err := http.Get(ts.srv.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	var health map[string]interface{}
	json.NewDecoder(resp.Body).Decode(&health)
	resp.Body.Close()
	if health["status"] != "ok" || health["lobbies"].(float64) != 1 {
		t.Errorf("unexpected health %v", health)
	}

	resp, err = http.Get(ts.srv.URL + "/api/lobbies")
	if err != nil {
		t.Fatal(err)
	}
	var list []LobbyInfo
	json.NewDecoder(resp.Body).Decode(&list)
	resp.Body.Close()
	if len(list) != 1 {
		t.Errorf("expected 1 lobby, got %+v", list)
	}

	resp, err = http.Get(ts.srv.URL + "/api/leaderboard")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("leaderboard without a database: status %d", resp.StatusCode)
	}

	resp, err = http.Get(ts.srv.URL + "/status")
	if err != nil {
		t.Fatal(err)
	}
	var status StatusReport
	json.NewDecoder(resp.Body).Decode(&status)
	resp.Body.Close()
	if status.Lobbies.Rooms != 1 || status.Clients != 1 {
		t.Errorf("unexpected status %+v", status)
	}
}

func TestLobbyQRCode(t *testing.T) {
	ts := startTestServer(t)
	created := createLobby(t, dialWS(t, ts.wsURL), "Host")

	resp, err := http.Get(ts.srv.URL + "/qr/" + strings.ToLower(created.LobbyID))
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != 200 || resp.Header.Get("Content-Type") != "image/png" {
		t.Fatalf("unexpected response %d %s", resp.StatusCode, resp.Header.Get("Content-Type"))
	}
	if !bytes.HasPrefix(body, []byte("\x89PNG")) {
		t.Error("expected a PNG body")
	}

	resp, err = http.Get(ts.srv.URL + "/qr/ZZZZZZ")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != 404 {
		t.Errorf("unknown lobby should 404, got %d", resp.StatusCode)
	}
}
