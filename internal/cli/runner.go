package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/term"

	"github.com/g960059/viasacra/internal/config"
	"github.com/g960059/viasacra/internal/db"
	"github.com/g960059/viasacra/internal/model"
	"github.com/g960059/viasacra/internal/navigate"
	"github.com/g960059/viasacra/internal/room"
	"github.com/g960059/viasacra/internal/roomclient"
	"github.com/g960059/viasacra/internal/security"
)

type Runner struct {
	cfg    config.Config
	client *http.Client
	in     io.Reader
	out    io.Writer
	errOut io.Writer

	outMu sync.Mutex
}

func NewRunner(cfg config.Config, in io.Reader, out, errOut io.Writer) *Runner {
	return NewRunnerWithClient(cfg, &http.Client{}, in, out, errOut)
}

func NewRunnerWithClient(cfg config.Config, client *http.Client, in io.Reader, out, errOut io.Writer) *Runner {
	if in == nil {
		in = os.Stdin
	}
	if out == nil {
		out = os.Stdout
	}
	if errOut == nil {
		errOut = os.Stderr
	}
	if client == nil {
		client = &http.Client{}
	}
	return &Runner{
		cfg:    cfg,
		client: client,
		in:     in,
		out:    out,
		errOut: errOut,
	}
}

func (r *Runner) Run(ctx context.Context, args []string) int {
	globals, rest, err := parseGlobalArgs(args)
	if err != nil {
		_, _ = fmt.Fprintf(r.errOut, "error: %v\n", err)
		return 2
	}
	if globals.apiURL != "" {
		r.cfg.APIBaseURL = globals.apiURL
	}
	if globals.dbPath != "" {
		r.cfg.DBPath = globals.dbPath
	}
	if len(rest) == 0 {
		r.printUsage()
		return 2
	}
	switch rest[0] {
	case "rooms":
		return r.runRooms(ctx, rest[1:])
	case "create":
		return r.runCreate(ctx, rest[1:])
	case "join":
		return r.runJoin(ctx, rest[1:])
	case "solo":
		return r.runSolo(ctx, rest[1:])
	case "status":
		return r.runStatus(ctx, rest[1:])
	case "next", "prev":
		return r.runStep(ctx, rest[0], rest[1:])
	case "reclaim":
		return r.runReclaim(ctx, rest[1:])
	case "leave":
		return r.runLeave(ctx, rest[1:])
	case "walk":
		return r.runWalk(ctx, rest[1:])
	default:
		_, _ = fmt.Fprintf(r.errOut, "unknown command: %s\n", rest[0])
		r.printUsage()
		return 2
	}
}

type globalArgs struct {
	configPath string
	apiURL     string
	dbPath     string
}

// ConfigPath returns the --config value from args, if any.
func ConfigPath(args []string) string {
	globals, _, err := parseGlobalArgs(args)
	if err != nil {
		return ""
	}
	return globals.configPath
}

func parseGlobalArgs(args []string) (globalArgs, []string, error) {
	var g globalArgs
	rest := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		var dst *string
		switch args[i] {
		case "--config":
			dst = &g.configPath
		case "--api":
			dst = &g.apiURL
		case "--db":
			dst = &g.dbPath
		default:
			rest = append(rest, args[i])
			continue
		}
		if i+1 >= len(args) {
			return globalArgs{}, nil, fmt.Errorf("%s requires value", args[i])
		}
		*dst = args[i+1]
		i++
	}
	return g, rest, nil
}

// openEngine opens the local store and builds an engine on top of it. The
// returned cleanup shuts the engine down and closes the store.
func (r *Runner) openEngine(ctx context.Context, listener func(room.Event)) (*room.Engine, func(), error) {
	store, err := db.Open(ctx, r.cfg.DBPath)
	if err != nil {
		return nil, nil, err
	}
	if err := db.ApplyMigrations(ctx, store.DB()); err != nil {
		_ = store.Close()
		return nil, nil, err
	}
	client := roomclient.NewWithClient(r.cfg.APIBaseURL, r.client).WithUnaryTimeout(r.cfg.RequestTimeout)
	engine := room.New(store, client, room.Options{
		PollInterval: r.cfg.PollInterval,
		LeaveTimeout: r.cfg.LeaveTimeout,
		Listener:     listener,
	})
	cleanup := func() {
		engine.Shutdown()
		if err := store.Close(); err != nil {
			log.Warn().Err(err).Msg("close store")
		}
	}
	return engine, cleanup, nil
}

func (r *Runner) runRooms(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("rooms", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	jsonOut := fs.Bool("json", false, "output JSON")
	if err := fs.Parse(args); err != nil {
		_, _ = fmt.Fprintf(r.errOut, "error: %v\n", err)
		return 2
	}
	client := roomclient.NewWithClient(r.cfg.APIBaseURL, r.client).WithUnaryTimeout(r.cfg.RequestTimeout)
	rooms, err := client.ListRooms(ctx)
	if err != nil {
		return r.handleErr(err)
	}
	if *jsonOut {
		type item struct {
			RoomID    string    `json:"room_id"`
			Name      string    `json:"name"`
			ExpiresAt time.Time `json:"expires_at"`
		}
		items := make([]item, 0, len(rooms))
		for _, rm := range rooms {
			items = append(items, item{RoomID: rm.RoomID, Name: rm.Name, ExpiresAt: rm.ExpiresAt})
		}
		return r.writeJSON(items)
	}
	if len(rooms) == 0 {
		_, _ = fmt.Fprintln(r.out, "no active rooms")
		return 0
	}
	for _, rm := range rooms {
		_, _ = fmt.Fprintf(r.out, "%s\t%s\t%s\n", rm.RoomID, rm.Name, rm.ExpiresAt.Format(time.RFC3339))
	}
	return 0
}

func (r *Runner) runCreate(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("create", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	name := fs.String("name", "", "room name")
	password := fs.String("password", "", "room password")
	as := fs.String("as", "", "participant name")
	if err := fs.Parse(args); err != nil {
		_, _ = fmt.Fprintf(r.errOut, "error: %v\n", err)
		return 2
	}
	if strings.TrimSpace(*name) == "" || *password == "" {
		_, _ = fmt.Fprintln(r.errOut, "usage: viasacra create --name <room> --password <password> [--as <name>]")
		return 2
	}
	engine, cleanup, err := r.openEngine(ctx, nil)
	if err != nil {
		return r.handleErr(err)
	}
	defer cleanup()
	if _, err := engine.Load(ctx); err != nil {
		return r.handleErr(err)
	}
	sess, err := engine.CreateRoom(ctx, roomclient.CreateRoomParams{Name: *name, Password: *password, ParticipantName: *as})
	if errors.Is(err, roomclient.ErrRoomNameTaken) {
		_, _ = fmt.Fprintf(r.errOut, "error: room name %q is already taken, choose another\n", strings.TrimSpace(*name))
		return 1
	}
	if err != nil {
		return r.handleErr(err)
	}
	_, _ = fmt.Fprintf(r.out, "created room %s as host\n", sess.RoomID)
	return 0
}

func (r *Runner) runJoin(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("join", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	roomID := fs.String("room", "", "room id")
	password := fs.String("password", "", "room password")
	as := fs.String("as", "", "participant name")
	if err := fs.Parse(args); err != nil {
		_, _ = fmt.Fprintf(r.errOut, "error: %v\n", err)
		return 2
	}
	if strings.TrimSpace(*roomID) == "" {
		_, _ = fmt.Fprintln(r.errOut, "usage: viasacra join --room <id> --password <password> [--as <name>]")
		return 2
	}
	engine, cleanup, err := r.openEngine(ctx, nil)
	if err != nil {
		return r.handleErr(err)
	}
	defer cleanup()
	if _, err := engine.Load(ctx); err != nil {
		return r.handleErr(err)
	}
	sess, err := engine.JoinRoom(ctx, *roomID, *password, *as)
	switch {
	case errors.Is(err, roomclient.ErrUnauthorized):
		_, _ = fmt.Fprintln(r.errOut, "error: wrong room password")
		return 1
	case errors.Is(err, roomclient.ErrRoomNotFound):
		_, _ = fmt.Fprintln(r.errOut, "error: room not found or expired")
		return 1
	case err != nil:
		return r.handleErr(err)
	}
	_, _ = fmt.Fprintf(r.out, "joined room %s at station %d\n", sess.RoomID, engine.Station())
	return 0
}

func (r *Runner) runSolo(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("solo", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	as := fs.String("as", "", "participant name")
	if err := fs.Parse(args); err != nil {
		_, _ = fmt.Fprintf(r.errOut, "error: %v\n", err)
		return 2
	}
	engine, cleanup, err := r.openEngine(ctx, nil)
	if err != nil {
		return r.handleErr(err)
	}
	defer cleanup()
	if _, err := engine.Load(ctx); err != nil {
		return r.handleErr(err)
	}
	if _, err := engine.StartSolo(ctx, *as); err != nil {
		return r.handleErr(err)
	}
	_, _ = fmt.Fprintln(r.out, "solo walk started at station 1")
	return 0
}

type statusView struct {
	RoomID          string `json:"room_id,omitempty"`
	Role            string `json:"role"`
	ParticipantName string `json:"participant_name,omitempty"`
	Station         int    `json:"station"`
	HasHostToken    bool   `json:"has_host_token"`
}

func (r *Runner) runStatus(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	jsonOut := fs.Bool("json", false, "output JSON")
	if err := fs.Parse(args); err != nil {
		_, _ = fmt.Fprintf(r.errOut, "error: %v\n", err)
		return 2
	}
	engine, cleanup, err := r.openEngine(ctx, nil)
	if err != nil {
		return r.handleErr(err)
	}
	defer cleanup()
	sess, err := engine.Load(ctx)
	if err != nil {
		return r.handleErr(err)
	}
	view := statusView{
		RoomID:          sess.RoomID,
		Role:            string(sess.Role),
		ParticipantName: sess.ParticipantName,
		Station:         engine.Station(),
		HasHostToken:    sess.HostToken != "",
	}
	if *jsonOut {
		return r.writeJSON(view)
	}
	if sess.InRoom() {
		_, _ = fmt.Fprintf(r.out, "room %s as %s\n", sess.RoomID, sess.Role)
		if sess.HostToken != "" {
			_, _ = fmt.Fprintf(r.out, "host token %s\n", security.MaskToken(sess.HostToken))
		}
	} else {
		_, _ = fmt.Fprintln(r.out, "solo")
	}
	_, _ = fmt.Fprintf(r.out, "station %d/%d\n", view.Station, model.LastStation)
	return 0
}

func (r *Runner) runStep(ctx context.Context, direction string, args []string) int {
	fs := flag.NewFlagSet(direction, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	if err := fs.Parse(args); err != nil {
		_, _ = fmt.Fprintf(r.errOut, "error: %v\n", err)
		return 2
	}
	engine, cleanup, err := r.openEngine(ctx, nil)
	if err != nil {
		return r.handleErr(err)
	}
	defer cleanup()
	if _, err := engine.Load(ctx); err != nil {
		return r.handleErr(err)
	}
	code, _ := r.step(ctx, engine, direction)
	return code
}

// step moves one station and reports whether the walk is over.
func (r *Runner) step(ctx context.Context, engine *room.Engine, direction string) (int, bool) {
	var (
		res navigate.Result
		err error
	)
	if direction == "next" {
		res, err = engine.GoNext(ctx)
	} else {
		res, err = engine.GoPrevious(ctx)
	}
	switch {
	case errors.Is(err, navigate.ErrNotPermitted):
		r.println("only the host can change the station; use reclaim to take over")
		return 1, false
	case errors.Is(err, navigate.ErrMutationInFlight):
		r.println("a station change is already in progress")
		return 1, false
	case err != nil:
		return r.handleErr(err), false
	}
	if res.Finished {
		r.println("via sacra finished")
		return 0, true
	}
	r.showStation(ctx, engine)
	return 0, false
}

func (r *Runner) runReclaim(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("reclaim", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	password := fs.String("password", "", "room password")
	as := fs.String("as", "", "participant name")
	if err := fs.Parse(args); err != nil {
		_, _ = fmt.Fprintf(r.errOut, "error: %v\n", err)
		return 2
	}
	if *password == "" {
		_, _ = fmt.Fprintln(r.errOut, "usage: viasacra reclaim --password <password> [--as <name>]")
		return 2
	}
	engine, cleanup, err := r.openEngine(ctx, nil)
	if err != nil {
		return r.handleErr(err)
	}
	defer cleanup()
	if _, err := engine.Load(ctx); err != nil {
		return r.handleErr(err)
	}
	return r.reclaim(ctx, engine, *password, *as)
}

func (r *Runner) reclaim(ctx context.Context, engine *room.Engine, password, name string) int {
	sess, err := engine.Reclaim(ctx, password, name)
	switch {
	case errors.Is(err, room.ErrNoRoom):
		r.println("not in a room")
		return 1
	case errors.Is(err, roomclient.ErrUnauthorized):
		r.println("wrong room password")
		return 1
	case errors.Is(err, navigate.ErrMutationInFlight):
		r.println("a station change is already in progress")
		return 1
	case err != nil:
		return r.handleErr(err)
	}
	r.printf("you are now the host of room %s at station %d\n", sess.RoomID, engine.Station())
	return 0
}

func (r *Runner) runLeave(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("leave", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	if err := fs.Parse(args); err != nil {
		_, _ = fmt.Fprintf(r.errOut, "error: %v\n", err)
		return 2
	}
	engine, cleanup, err := r.openEngine(ctx, nil)
	if err != nil {
		return r.handleErr(err)
	}
	defer cleanup()
	if _, err := engine.Load(ctx); err != nil {
		return r.handleErr(err)
	}
	if err := engine.SignOut(ctx); err != nil {
		return r.handleErr(err)
	}
	_, _ = fmt.Fprintln(r.out, "session cleared")
	return 0
}

// runWalk is the interactive room view: it follows the room and reads
// navigation commands from input until quit, EOF, room closure or ctx end.
func (r *Runner) runWalk(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("walk", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	if err := fs.Parse(args); err != nil {
		_, _ = fmt.Fprintf(r.errOut, "error: %v\n", err)
		return 2
	}

	closed := make(chan struct{}, 1)
	listener := func(ev room.Event) {
		switch ev.Kind {
		case room.EventStationChanged:
			if ev.Remote {
				r.printf("* room moved to station %d\n", ev.Station)
			}
		case room.EventFinished:
			// step prints the finish line
		case room.EventRoomClosed:
			r.println("* the room has ended")
			select {
			case closed <- struct{}{}:
			default:
			}
		default:
			r.printf("* %s\n", ev)
		}
	}
	engine, cleanup, err := r.openEngine(ctx, listener)
	if err != nil {
		return r.handleErr(err)
	}
	defer cleanup()
	sess, err := engine.Open(ctx)
	if err != nil {
		return r.handleErr(err)
	}
	defer engine.Detach()

	if sess.InRoom() {
		r.printf("room %s as %s\n", sess.RoomID, sess.Role)
	}
	r.showStation(ctx, engine)
	r.println("commands: n(ext) p(rev) r(eclaim) s(tatus) q(uit)")

	reader := newPromptReader(r.in)
	requests := make(chan bool)
	results := make(chan promptResult, 1)
	defer close(requests)
	go func() {
		for secret := range requests {
			text, err := reader.readLine(secret)
			results <- promptResult{text: text, err: err}
		}
	}()

	secret := false
	for {
		requests <- secret
		select {
		case <-ctx.Done():
			return 0
		case <-closed:
			return 0
		case res := <-results:
			if res.err != nil {
				return 0
			}
			if secret {
				secret = false
				if reader.hidden() {
					r.println("")
				}
				r.reclaim(ctx, engine, strings.TrimSpace(res.text), "")
				continue
			}
			switch r.walkCommand(ctx, engine, res.text) {
			case walkQuit:
				return 0
			case walkPassword:
				r.printf("room password: ")
				secret = true
			}
		}
	}
}

type walkAction int

const (
	walkContinue walkAction = iota
	walkPassword
	walkQuit
)

func (r *Runner) walkCommand(ctx context.Context, engine *room.Engine, line string) walkAction {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return walkContinue
	}
	switch fields[0] {
	case "n", "next", "p", "prev":
		direction := "next"
		if fields[0] == "p" || fields[0] == "prev" {
			direction = "prev"
		}
		if _, finished := r.step(ctx, engine, direction); finished {
			return walkQuit
		}
	case "r", "reclaim":
		return walkPassword
	case "s", "status":
		sess := engine.Session()
		stats := engine.PollStats()
		r.printf("role %s, station %d/%d, polls %d, failures %d\n", sess.Role, engine.Station(), model.LastStation, stats.Polls, stats.Failures)
	case "q", "quit", "exit":
		return walkQuit
	default:
		r.printf("unknown command %q\n", fields[0])
	}
	return walkContinue
}

type promptResult struct {
	text string
	err  error
}

// promptReader reads walk input line by line. Secret lines typed on a
// terminal are read with echo off.
type promptReader struct {
	in      io.Reader
	scanner *bufio.Scanner
}

func newPromptReader(in io.Reader) *promptReader {
	return &promptReader{in: in, scanner: bufio.NewScanner(in)}
}

func (p *promptReader) terminalFd() (int, bool) {
	f, ok := p.in.(*os.File)
	if !ok {
		return 0, false
	}
	fd := int(f.Fd())
	return fd, term.IsTerminal(fd)
}

func (p *promptReader) hidden() bool {
	_, ok := p.terminalFd()
	return ok
}

func (p *promptReader) readLine(secret bool) (string, error) {
	if secret {
		if fd, ok := p.terminalFd(); ok {
			b, err := term.ReadPassword(fd)
			return string(b), err
		}
	}
	if p.scanner.Scan() {
		return p.scanner.Text(), nil
	}
	if err := p.scanner.Err(); err != nil {
		return "", err
	}
	return "", io.EOF
}

func (r *Runner) showStation(ctx context.Context, engine *room.Engine) {
	station := engine.Station()
	content, err := engine.Content(ctx)
	if err != nil || strings.TrimSpace(content.Title) == "" {
		if err != nil {
			log.Debug().Err(err).Int("station", station).Msg("station content unavailable")
		}
		r.printf("station %d/%d\n", station, model.LastStation)
		return
	}
	r.printf("station %d/%d: %s\n", station, model.LastStation, content.Title)
}

func (r *Runner) writeJSON(v any) int {
	enc := json.NewEncoder(r.out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return r.handleErr(err)
	}
	return 0
}

func (r *Runner) printf(format string, args ...any) {
	r.outMu.Lock()
	defer r.outMu.Unlock()
	_, _ = fmt.Fprintf(r.out, format, args...)
}

func (r *Runner) println(msg string) {
	r.outMu.Lock()
	defer r.outMu.Unlock()
	_, _ = fmt.Fprintln(r.out, msg)
}

func (r *Runner) handleErr(err error) int {
	_, _ = fmt.Fprintf(r.errOut, "error: %v\n", err)
	return 1
}

func (r *Runner) printUsage() {
	_, _ = fmt.Fprintln(r.errOut, "usage: viasacra [--config <path>] [--api <url>] [--db <path>] <rooms|create|join|solo|status|next|prev|reclaim|leave|walk> ...")
}
