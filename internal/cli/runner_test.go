package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/g960059/viasacra/internal/config"
	"github.com/g960059/viasacra/internal/model"
	"github.com/g960059/viasacra/internal/testutil"
)

type cliHarness struct {
	t      *testing.T
	server *testutil.RoomServer
	cfg    config.Config
}

func newCLIHarness(t *testing.T) *cliHarness {
	t.Helper()
	server := testutil.NewRoomServer(t)
	cfg := config.DefaultConfig()
	cfg.APIBaseURL = server.URL()
	cfg.DBPath = filepath.Join(t.TempDir(), "state", "session.db")
	cfg.LeaveTimeout = time.Second
	return &cliHarness{t: t, server: server, cfg: cfg}
}

func (h *cliHarness) run(in io.Reader, args ...string) (int, string, string) {
	h.t.Helper()
	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	if in == nil {
		in = strings.NewReader("")
	}
	r := NewRunnerWithClient(h.cfg, h.server.Client(), in, out, errOut)
	code := r.Run(context.Background(), args)
	return code, out.String(), errOut.String()
}

func (h *cliHarness) mustRun(args ...string) string {
	h.t.Helper()
	code, out, errOut := h.run(nil, args...)
	if code != 0 {
		h.t.Fatalf("%v: expected exit 0, got %d stderr=%s", args, code, errOut)
	}
	return out
}

func (h *cliHarness) status() statusView {
	h.t.Helper()
	var view statusView
	if err := json.Unmarshal([]byte(h.mustRun("status", "--json")), &view); err != nil {
		h.t.Fatalf("decode status: %v", err)
	}
	return view
}

func TestRoomsListsActiveRooms(t *testing.T) {
	h := newCLIHarness(t)
	if out := h.mustRun("rooms"); !strings.Contains(out, "no active rooms") {
		t.Fatalf("expected empty listing, got: %s", out)
	}
	roomID, _ := h.server.SeedRoom("familia", "1234", "Ana")

	out := h.mustRun("rooms")
	if !strings.Contains(out, roomID+"\tfamilia\t") {
		t.Fatalf("expected tabular room output, got: %s", out)
	}
	out = h.mustRun("rooms", "--json")
	if !strings.Contains(out, `"room_id": "`+roomID+`"`) {
		t.Fatalf("expected JSON room output, got: %s", out)
	}
}

func TestCreateRoomAndNameTaken(t *testing.T) {
	h := newCLIHarness(t)
	out := h.mustRun("create", "--name", "familia", "--password", "1234", "--as", "Ana Maria")
	if !strings.Contains(out, "as host") {
		t.Fatalf("unexpected create output: %s", out)
	}
	view := h.status()
	if view.Role != "host" || !view.HasHostToken || view.Station != 1 || view.ParticipantName != "Ana Maria" {
		t.Fatalf("unexpected status after create: %+v", view)
	}
	if !slices.Contains(h.server.Participants(view.RoomID), "Ana Maria") {
		t.Fatalf("host missing from roster: %v", h.server.Participants(view.RoomID))
	}

	code, _, errOut := h.run(nil, "create", "--name", "familia", "--password", "5678")
	if code != 1 || !strings.Contains(errOut, "already taken") {
		t.Fatalf("expected name taken error, got code=%d stderr=%s", code, errOut)
	}
	if after := h.status(); after.RoomID != view.RoomID {
		t.Fatalf("failed create changed session: %+v", after)
	}
}

func TestFollowerReclaimsHost(t *testing.T) {
	h := newCLIHarness(t)
	roomID, _ := h.server.SeedRoom("familia", "1234", "Ana")
	h.server.SetStation(roomID, 3)

	code, _, errOut := h.run(nil, "join", "--room", roomID, "--password", "nope", "--as", "Bia")
	if code != 1 || !strings.Contains(errOut, "wrong room password") {
		t.Fatalf("expected wrong password, got code=%d stderr=%s", code, errOut)
	}
	if out := h.mustRun("join", "--room", roomID, "--password", "1234", "--as", "Bia"); !strings.Contains(out, "at station 3") {
		t.Fatalf("unexpected join output: %s", out)
	}
	if view := h.status(); view.Role != "follower" || view.HasHostToken || view.Station != 3 {
		t.Fatalf("unexpected follower status: %+v", view)
	}

	code, out, _ := h.run(nil, "next")
	if code != 1 || !strings.Contains(out, "only the host") {
		t.Fatalf("follower next should be refused, got code=%d out=%s", code, out)
	}

	code, out, _ = h.run(nil, "reclaim", "--password", "wrong")
	if code != 1 || !strings.Contains(out, "wrong room password") {
		t.Fatalf("expected reclaim failure, got code=%d out=%s", code, out)
	}
	h.server.SetStation(roomID, 8)
	if out := h.mustRun("reclaim", "--password", "1234"); !strings.Contains(out, "at station 8") {
		t.Fatalf("unexpected reclaim output: %s", out)
	}
	if view := h.status(); view.Role != "host" || !view.HasHostToken || view.Station != 8 {
		t.Fatalf("unexpected host status: %+v", view)
	}

	if out := h.mustRun("next"); !strings.Contains(out, "station 9/14: Station 9") {
		t.Fatalf("unexpected next output: %s", out)
	}
	if got := h.server.Station(roomID); got != 9 {
		t.Fatalf("server station %d, want 9", got)
	}
}

func TestSoloStepsAndLeave(t *testing.T) {
	h := newCLIHarness(t)
	h.mustRun("solo", "--as", "Ana")
	if out := h.mustRun("prev"); !strings.Contains(out, "station 1/14") {
		t.Fatalf("prev at first station should stay, got: %s", out)
	}
	if out := h.mustRun("next"); !strings.Contains(out, "station 2/14") {
		t.Fatalf("unexpected next output: %s", out)
	}
	if view := h.status(); view.Role != "solo" || view.Station != 2 {
		t.Fatalf("unexpected solo status: %+v", view)
	}
	if out := h.mustRun("leave"); !strings.Contains(out, "session cleared") {
		t.Fatalf("unexpected leave output: %s", out)
	}
	if view := h.status(); view.Station != 1 || view.ParticipantName != "" {
		t.Fatalf("leave did not reset state: %+v", view)
	}
}

func TestLeaveNotifiesRoom(t *testing.T) {
	h := newCLIHarness(t)
	roomID, _ := h.server.SeedRoom("familia", "1234", "Ana")
	h.mustRun("join", "--room", roomID, "--password", "1234", "--as", "Bia")
	if !slices.Contains(h.server.Participants(roomID), "Bia") {
		t.Fatalf("join did not register participant")
	}
	h.mustRun("leave")
	if slices.Contains(h.server.Participants(roomID), "Bia") {
		t.Fatalf("leave did not notify room: %v", h.server.Participants(roomID))
	}
}

func TestWalkHostAdvances(t *testing.T) {
	h := newCLIHarness(t)
	h.mustRun("create", "--name", "familia", "--password", "1234", "--as", "Ana")
	roomID := h.status().RoomID

	code, out, errOut := h.run(strings.NewReader("n\nnext\np\ns\nbogus\nq\n"), "walk")
	if code != 0 {
		t.Fatalf("walk exit %d stderr=%s", code, errOut)
	}
	for _, want := range []string{"room " + roomID + " as host", "station 2/14", "station 3/14", "role host, station 2/14", `unknown command "bogus"`} {
		if !strings.Contains(out, want) {
			t.Fatalf("walk output missing %q:\n%s", want, out)
		}
	}
	if got := h.server.Station(roomID); got != 2 {
		t.Fatalf("server station %d, want 2", got)
	}
}

func TestWalkSoloFinishEndsWalk(t *testing.T) {
	h := newCLIHarness(t)
	h.mustRun("solo", "--as", "Ana")

	input := strings.Repeat("n\n", model.LastStation) + "s\nq\n"
	code, out, errOut := h.run(strings.NewReader(input), "walk")
	if code != 0 {
		t.Fatalf("walk exit %d stderr=%s", code, errOut)
	}
	if strings.Count(out, "via sacra finished") != 1 {
		t.Fatalf("expected one finish line:\n%s", out)
	}
	if strings.Contains(out, "* finished") {
		t.Fatalf("finish printed twice:\n%s", out)
	}
	if strings.Contains(out, "role solo") {
		t.Fatalf("walk kept reading input after finishing:\n%s", out)
	}
	if view := h.status(); view.Station != model.LastStation {
		t.Fatalf("expected station %d after finishing, got %+v", model.LastStation, view)
	}
}

func TestWalkReclaimPromptsForPassword(t *testing.T) {
	h := newCLIHarness(t)
	roomID, _ := h.server.SeedRoom("familia", "1234", "Ana")
	h.server.SetStation(roomID, 5)
	h.mustRun("join", "--room", roomID, "--password", "1234", "--as", "Bia")

	code, out, errOut := h.run(strings.NewReader("r\nwrong\nreclaim\n1234\nq\n"), "walk")
	if code != 0 {
		t.Fatalf("walk exit %d stderr=%s", code, errOut)
	}
	if strings.Count(out, "room password: ") != 2 {
		t.Fatalf("expected two password prompts:\n%s", out)
	}
	for _, want := range []string{"wrong room password", "you are now the host of room " + roomID + " at station 5"} {
		if !strings.Contains(out, want) {
			t.Fatalf("walk output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, `unknown command "1234"`) {
		t.Fatalf("password treated as a command:\n%s", out)
	}
	if view := h.status(); view.Role != "host" || !view.HasHostToken {
		t.Fatalf("unexpected status after reclaim: %+v", view)
	}
}

func TestWalkEndsWhenRoomCloses(t *testing.T) {
	h := newCLIHarness(t)
	h.cfg.PollInterval = 20 * time.Millisecond
	roomID, _ := h.server.SeedRoom("familia", "1234", "Ana")
	h.mustRun("join", "--room", roomID, "--password", "1234", "--as", "Bia")

	in, writer := io.Pipe()
	t.Cleanup(func() { _ = writer.Close() })

	type result struct {
		code int
		out  string
	}
	done := make(chan result, 1)
	go func() {
		code, out, _ := h.run(in, "walk")
		done <- result{code: code, out: out}
	}()

	time.Sleep(50 * time.Millisecond)
	h.server.Expire(roomID)

	select {
	case res := <-done:
		if res.code != 0 || !strings.Contains(res.out, "the room has ended") {
			t.Fatalf("unexpected walk result: %+v", res)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("walk did not end after room closed")
	}
	if view := h.status(); view.RoomID != "" || view.Role != "solo" {
		t.Fatalf("session kept after room closed: %+v", view)
	}
}

func TestUsageErrors(t *testing.T) {
	h := newCLIHarness(t)
	cases := [][]string{
		{},
		{"bogus"},
		{"create", "--name", "familia"},
		{"join"},
		{"reclaim"},
		{"--api"},
		{"rooms", "--nope"},
	}
	for _, args := range cases {
		if code, _, _ := h.run(nil, args...); code != 2 {
			t.Fatalf("%v: expected exit 2, got %d", args, code)
		}
	}
}

func TestGlobalArgs(t *testing.T) {
	g, rest, err := parseGlobalArgs([]string{"--config", "c.yaml", "status", "--api", "http://x/api", "--db", "s.db", "--json"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if g.configPath != "c.yaml" || g.apiURL != "http://x/api" || g.dbPath != "s.db" {
		t.Fatalf("unexpected globals: %+v", g)
	}
	if !slices.Equal(rest, []string{"status", "--json"}) {
		t.Fatalf("unexpected rest: %v", rest)
	}
	if ConfigPath([]string{"--config", "other.yaml", "walk"}) != "other.yaml" {
		t.Fatalf("ConfigPath did not find --config")
	}
}

func TestStatusMasksHostToken(t *testing.T) {
	h := newCLIHarness(t)
	h.mustRun("create", "--name", "familia", "--password", "1234", "--as", "Ana")
	roomID := h.status().RoomID
	token := h.server.HostToken(roomID)

	out := h.mustRun("status")
	if !strings.Contains(out, "room "+roomID+" as host") || !strings.Contains(out, "station 1/14") {
		t.Fatalf("unexpected status output: %s", out)
	}
	if strings.Contains(out, token) || !strings.Contains(out, "host token "+token[:4]) {
		t.Fatalf("host token not masked: %s", out)
	}
}
