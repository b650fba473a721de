package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/docopt/docopt-go"
	"github.com/golang-jwt/jwt/v5"
	"github.com/golang/glog"
	"github.com/google/uuid"
	"golang.org/x/term"

	"github.com/trentd187/scorecard-sync/internal/livesync"
	"github.com/trentd187/scorecard-sync/internal/models"
	"github.com/trentd187/scorecard-sync/internal/remote"
	"github.com/trentd187/scorecard-sync/internal/repository"
)

const ScoreCtlVersion = "0.1.0"

var Out *log.Logger
var Err *log.Logger

func init() {
	Out = log.New(os.Stdout, "", 0)
	Err = log.New(os.Stderr, "", log.Ltime)
}

func main() {
	usage := `Scorecard sync control.

Plays live rounds against a scorecard sync server from the terminal.
The token is read from --token, then SCORECARD_TOKEN, then prompted for.

Usage:
    scorectl create [options] --name=<name> [--holes=<holes>] [--course=<course>]
    scorectl join [options] --name=<name> <code>
    scorectl show [options] <code>
    scorectl watch [options] <code>
    scorectl leaderboard [options] <course> [--scope=<scope>]
    scorectl submit [options] <course> --strokes=<strokes> [--name=<name>] [--email=<email>]
    scorectl -h | --help
    scorectl --version

Options:
    -h --help              Show this screen.
    --version              Show version.
    --url=<url>            Server url [default: http://localhost:8080].
    --token=<token>        Bearer token.
    --device=<device>      Device id; random by default.
    --id=<id>              Your participant id; the token subject by default.
    --name=<name>          Your display name.
    --holes=<holes>        Number of holes [default: 18].
    --course=<course>      Course id.
    --scope=<scope>        all, week or a week id like 2026-W42 [default: all].
    --strokes=<strokes>    Total strokes of the round.
    --email=<email>        Contact shown to course staff.
    -v=<level>             glog verbosity [default: 0].`

	opts, err := docopt.ParseArgs(usage, os.Args[1:], ScoreCtlVersion)
	if err != nil {
		Err.Fatal(err)
	}
	v, _ := opts.String("-v")
	initLogging(v)
	defer glog.Flush()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if create_, _ := opts.Bool("create"); create_ {
		create(ctx, opts)
	} else if join_, _ := opts.Bool("join"); join_ {
		join(ctx, opts)
	} else if show_, _ := opts.Bool("show"); show_ {
		show(ctx, opts)
	} else if watch_, _ := opts.Bool("watch"); watch_ {
		watch(ctx, opts)
	} else if leaderboard_, _ := opts.Bool("leaderboard"); leaderboard_ {
		leaderboard(ctx, opts)
	} else if submit_, _ := opts.Bool("submit"); submit_ {
		submit(ctx, opts)
	}
}

// initLogging points glog at stderr with verbosity v. docopt owns the arguments, so
// the flag set is parsed empty, as glog expects it to be parsed before logging.
func initLogging(v string) {
	_ = flag.CommandLine.Parse(nil)
	_ = flag.Set("logtostderr", "true")
	if v != "" {
		_ = flag.Set("v", v)
	}
}

// session is what every command needs to talk to the server.
type session struct {
	client   *remote.Client
	sessions *repository.Sessions
	deviceID string
	userID   string
}

func connect(opts docopt.Opts) *session {
	url, _ := opts.String("--url")
	token, _ := opts.String("--token")
	if token == "" {
		token = os.Getenv("SCORECARD_TOKEN")
	}
	if token == "" && term.IsTerminal(int(syscall.Stdin)) {
		fmt.Fprint(os.Stderr, "Token: ")
		raw, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			Err.Fatalf("read token: %v", err)
		}
		token = strings.TrimSpace(string(raw))
	}
	deviceID, _ := opts.String("--device")
	if deviceID == "" {
		deviceID = "cli-" + uuid.NewString()
	}
	userID, _ := opts.String("--id")
	if userID == "" {
		userID = tokenSubject(token)
	}
	if userID == "" {
		userID = "guest-" + uuid.NewString()
	}

	client := remote.New(url, token, deviceID, remote.Options{})
	return &session{
		client:   client,
		sessions: repository.NewSessions(client, client),
		deviceID: deviceID,
		userID:   userID,
	}
}

func (s *session) synchronizer() *livesync.Synchronizer {
	return livesync.New(s.sessions, livesync.Options{
		DeviceID: s.deviceID,
		Network:  s.client,
		Archiver: repository.NewRounds(s.client),
	})
}

func (s *session) self(opts docopt.Opts) models.Participant {
	name, _ := opts.String("--name")
	email, _ := opts.String("--email")
	return models.Participant{ID: s.userID, Name: name, Email: email}
}

func create(ctx context.Context, opts docopt.Opts) {
	s := connect(opts)
	holes, err := opts.Int("--holes")
	if err != nil || holes < 1 {
		Err.Fatalf("--holes must be a positive number")
	}
	course, _ := opts.String("--course")

	sync := s.synchronizer()
	defer sync.Close()
	code, err := sync.Create(ctx, s.self(opts), holes, course)
	if err != nil {
		Err.Fatalf("create: %v", err)
	}
	Out.Printf("Round %s created. Others join with: scorectl join --name=<name> %s", code, code)
	s.play(ctx, sync, s.self(opts).ID, course)
}

func join(ctx context.Context, opts docopt.Opts) {
	s := connect(opts)
	code, _ := opts.String("<code>")

	sync := s.synchronizer()
	defer sync.Close()
	if err := sync.Join(ctx, code, s.self(opts)); err != nil {
		Err.Fatalf("join: %v", err)
	}
	Out.Printf("Joined round %s.", sync.Code())
	s.play(ctx, sync, s.self(opts).ID, sync.Snapshot().CourseID)
}

const playHelp = `Commands:
    hole <n> <strokes> [participant]   Enter strokes for a hole (yourself by default)
    guest <name>                       Add a guest without an account
    remove <participant>               Remove a participant
    start                              Start the round
    show                               Print the scorecard
    leave                              Leave the round
    finish                             Finish and archive the round
    dismiss                            Cancel the round for everyone
    help                               Show this help`

// play reads commands from stdin and prints the scorecard whenever it changes.
func (s *session) play(ctx context.Context, sync *livesync.Synchronizer, self, course string) {
	Out.Print(playHelp)
	printCard(sync.Snapshot())

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			_ = sync.Flush(context.Background())
			return
		case <-sync.Updates():
			if sync.State() == livesync.StateTornDown {
				snap := sync.Snapshot()
				if snap != nil && snap.Dismissed {
					Out.Print("The host cancelled the round.")
				} else {
					Out.Print("The round is over.")
				}
				return
			}
			printCard(sync.Snapshot())
		case line, ok := <-lines:
			if !ok {
				_ = sync.Flush(context.Background())
				return
			}
			if done := s.runCommand(ctx, sync, self, course, strings.Fields(line)); done {
				return
			}
		}
	}
}

func (s *session) runCommand(ctx context.Context, sync *livesync.Synchronizer, self, course string, args []string) bool {
	if len(args) == 0 {
		return false
	}
	var err error
	switch args[0] {
	case "hole":
		if len(args) < 3 {
			Err.Print("usage: hole <n> <strokes> [participant]")
			return false
		}
		hole, err1 := strconv.Atoi(args[1])
		strokes, err2 := strconv.Atoi(args[2])
		if err1 != nil || err2 != nil {
			Err.Print("hole and strokes must be numbers")
			return false
		}
		who := self
		if len(args) > 3 {
			who = args[3]
		}
		err = sync.SetStrokes(who, hole, strokes)
	case "guest":
		var g models.Participant
		g, err = sync.AddGuest(strings.Join(args[1:], " "))
		if err == nil {
			Out.Printf("Added %s as %s", g.Name, g.ID)
		}
	case "remove":
		if len(args) < 2 {
			Err.Print("usage: remove <participant>")
			return false
		}
		err = sync.RemoveParticipant(args[1])
	case "start":
		err = sync.Start()
	case "show":
		printCard(sync.Snapshot())
	case "leave":
		err = sync.Leave(ctx, self)
		if err == nil {
			Out.Print("You left the round.")
			return true
		}
	case "finish":
		var done *models.Session
		done, err = sync.Finish(ctx)
		if err == nil {
			printCard(done)
			s.submitFinished(ctx, done, course)
			return true
		}
	case "dismiss":
		err = sync.Dismiss(ctx)
		if err == nil {
			Out.Print("Round cancelled.")
			return true
		}
	case "help":
		Out.Print(playHelp)
	default:
		Err.Printf("unknown command %q, try help", args[0])
	}
	if err != nil {
		Err.Printf("%s: %v", args[0], err)
	}
	return false
}

// submitFinished reports a finished round's scores and analytics for its course.
func (s *session) submitFinished(ctx context.Context, round *models.Session, course string) {
	if course == "" {
		return
	}
	var contacts []string
	for _, p := range round.Players {
		if p.Email != "" {
			contacts = append(contacts, p.Email)
		}
		if p.Incomplete() {
			continue
		}
		if _, err := s.client.SubmitScore(ctx, course, models.LeaderboardEntry{
			ParticipantID: p.ID, Name: p.Name, Photo: p.Photo, Email: p.Email, TotalStrokes: p.TotalStrokes(),
		}); err != nil {
			Err.Printf("submit score of %s: %v", p.Name, err)
		}
	}
	if _, err := s.client.RecordRound(ctx, course, contacts, round, round.StartTime, round.EndTime); err != nil {
		Err.Printf("record round: %v", err)
	}
}

func show(ctx context.Context, opts docopt.Opts) {
	s := connect(opts)
	code, _ := opts.String("<code>")
	round, err := s.sessions.Get(ctx, livesync.NormalizeCode(code))
	if err != nil {
		Err.Fatalf("show: %v", err)
	}
	printCard(round)
}

// watch prints every change event of a round until interrupted.
func watch(ctx context.Context, opts docopt.Opts) {
	s := connect(opts)
	code := livesync.NormalizeCode(mustString(opts, "<code>"))
	sub, err := s.sessions.Subscribe(ctx, code)
	if err != nil {
		Err.Fatalf("watch: %v", err)
	}
	defer sub.Close()
	Out.Printf("Watching %s, ^C to stop.", code)
	for ev := range sub.Events() {
		switch {
		case ev.IsDocumentRemoved():
			Out.Printf("%s  round removed", ev.At.Format(time.TimeOnly))
			return
		case ev.Parent == "":
			Out.Printf("%s  %-8s %s = %v", ev.At.Format(time.TimeOnly), ev.Kind, ev.ChildKey, ev.Value)
		default:
			Out.Printf("%s  %-8s %s/%s", ev.At.Format(time.TimeOnly), ev.Kind, ev.Parent, ev.ChildKey)
		}
	}
}

func leaderboard(ctx context.Context, opts docopt.Opts) {
	s := connect(opts)
	scope, _ := opts.String("--scope")
	entries, err := s.client.Leaderboard(ctx, mustString(opts, "<course>"), scope)
	if err != nil {
		Err.Fatalf("leaderboard: %v", err)
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "#\tNAME\tSTROKES")
	for i, e := range entries {
		fmt.Fprintf(w, "%d\t%s\t%d\n", i+1, e.Name, e.TotalStrokes)
	}
	w.Flush()
}

func submit(ctx context.Context, opts docopt.Opts) {
	s := connect(opts)
	strokes, err := opts.Int("--strokes")
	if err != nil {
		Err.Fatalf("--strokes must be a number")
	}
	p := s.self(opts)
	best, err := s.client.SubmitScore(ctx, mustString(opts, "<course>"), models.LeaderboardEntry{
		ParticipantID: p.ID, Name: p.Name, Email: p.Email, TotalStrokes: strokes,
	})
	if err != nil {
		Err.Fatalf("submit: %v", err)
	}
	Out.Printf("Best round on record: %d", best.TotalStrokes)
}

func printCard(s *models.Session) {
	if s == nil {
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 1, ' ', tabwriter.AlignRight)
	fmt.Fprintf(w, "Round %s\t", s.Code)
	for n := 1; n <= s.NumberOfHoles; n++ {
		fmt.Fprintf(w, "%d\t", n)
	}
	fmt.Fprint(w, "TOT\t\n")
	for _, p := range s.Players {
		fmt.Fprintf(w, "%s\t", p.Name)
		for n := 1; n <= s.NumberOfHoles; n++ {
			if h := p.Hole(n); h != nil && h.Strokes > 0 {
				fmt.Fprintf(w, "%d\t", h.Strokes)
			} else {
				fmt.Fprint(w, "-\t")
			}
		}
		fmt.Fprintf(w, "%d\t\n", p.TotalStrokes())
	}
	w.Flush()
}

func mustString(opts docopt.Opts, key string) string {
	v, err := opts.String(key)
	if err != nil {
		Err.Fatalf("%s is required", key)
	}
	return v
}

// tokenSubject reads the subject of a JWT without verifying it; the server verifies.
func tokenSubject(token string) string {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return ""
	}
	return claims.Subject
}
