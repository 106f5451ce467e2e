package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"github.com/mattn/go-shellwords"
	"github.com/spf13/cobra"

	"github.com/KevoDB/healthrec/pkg/client"
	"github.com/KevoDB/healthrec/pkg/record"
	"github.com/KevoDB/healthrec/pkg/store"
)

var completer = readline.NewPrefixCompleter(
	readline.PcItem(".help"),
	readline.PcItem(".stats"),
	readline.PcItem(".info"),
	readline.PcItem(".exit"),
	readline.PcItem("create"),
	readline.PcItem("get"),
	readline.PcItem("update"),
	readline.PcItem("delete"),
	readline.PcItem("list"),
	readline.PcItem("inclinic"),
	readline.PcItem("search"),
	readline.PcItem("staff"),
	readline.PcItem("sort"),
	readline.PcItem("page"),
	readline.PcItem("presence",
		readline.PcItem("in"),
		readline.PcItem("out"),
	),
	readline.PcItem("appt"),
	readline.PcItem("history"),
)

const shellHelp = `
Commands:
  .help                       - Show this help message
  .stats                      - Show store statistics (local store only)
  .info                       - Show store layout (local store only)
  .exit                       - Exit the shell

  create field=value ...      - Create a patient
  get ID                      - Show a patient
  update ID field=value ...   - Change the given fields of a patient
  delete ID                   - Delete a patient
  list                        - List all patients in id order
  inclinic                    - List patients currently in the clinic
  search TEXT                 - Find patients whose name or history contains TEXT
  staff TEXT                  - Find patients whose staff name or history contains TEXT
  sort                        - List all patients ordered by name
  page LIMIT OFFSET           - List at most LIMIT patients after skipping OFFSET
  presence ID [in|out]        - Show or set whether a patient is in the clinic
  appt ID TIME                - Set the next appointment (RFC 3339 or unix nanoseconds)
  history ID                  - Show the change history of a patient

Fields: name, history, staff, appt, in (true|false). Quote values that hold
spaces, apostrophes or any of ; & | < >:
  create name="Jane Doe" staff="Dr. Grey" history="penicillin allergy"
`

// records is the part of the store the shell drives. Both the local store
// adapter and the gRPC client satisfy it.
type records interface {
	Create(ctx context.Context, p record.Payload) (*record.Patient, error)
	Get(ctx context.Context, id uint64) (*record.Patient, error)
	Update(ctx context.Context, id uint64, p record.Payload) (*record.Patient, error)
	Delete(ctx context.Context, id uint64) (*record.Patient, error)
	List(ctx context.Context) ([]*record.Patient, error)
	ListInClinic(ctx context.Context) ([]*record.Patient, error)
	Search(ctx context.Context, text string) ([]*record.Patient, error)
	SearchByStaff(ctx context.Context, text string) ([]*record.Patient, error)
	SortByName(ctx context.Context) ([]*record.Patient, error)
	Paginate(ctx context.Context, limit, offset uint64) ([]*record.Patient, error)
	SetPresence(ctx context.Context, id uint64, inClinic bool) (*record.Patient, error)
	InClinic(ctx context.Context, id uint64) (bool, error)
	SetNextAppointment(ctx context.Context, id uint64, at time.Time) (*record.Patient, error)
	History(ctx context.Context, id uint64) ([]record.ChangeRecord, error)
}

var _ records = (*client.Client)(nil)

// localRecords adapts a store opened in this process
type localRecords struct {
	*store.Store
}

func (l localRecords) Paginate(ctx context.Context, limit, offset uint64) ([]*record.Patient, error) {
	return l.Store.Paginate(ctx, store.PageBound(limit), store.PageBound(offset))
}

func (l localRecords) SetNextAppointment(ctx context.Context, id uint64, at time.Time) (*record.Patient, error) {
	return l.Store.SetNextAppointment(ctx, id, uint64(at.UnixNano()))
}

var (
	remoteAddr    string
	remoteTimeout time.Duration
)

var shellCmd = &cobra.Command{
	Use:   "shell",
	Short: "Interactive shell on a local store or a remote server",
	RunE: func(cmd *cobra.Command, args []string) error {
		sh := &shell{out: os.Stdout}
		prompt := "healthrec> "

		if remoteAddr != "" {
			opts := client.DefaultClientOptions()
			opts.Endpoint = remoteAddr
			opts.RequestTimeout = remoteTimeout
			c, err := client.NewClient(opts)
			if err != nil {
				return err
			}
			defer c.Close()
			sh.recs = c
			prompt = fmt.Sprintf("healthrec:%s> ", remoteAddr)
		} else {
			eng, err := openEngine()
			if err != nil {
				return err
			}
			defer eng.Close()
			sh.recs = localRecords{eng.Store()}
			sh.stats = eng.Stats
			sh.info = func() any { return eng.Info() }
		}
		return sh.run(cmd.Context(), prompt)
	},
}

func init() {
	shellCmd.Flags().StringVar(&remoteAddr, "remote", "", "gRPC address of a running server instead of a local store")
	shellCmd.Flags().DurationVar(&remoteTimeout, "timeout", 10*time.Second, "per-request timeout against a remote server")
}

// errExit ends the shell loop
var errExit = errors.New("exit")

type shell struct {
	recs  records
	out   io.Writer
	stats func() map[string]interface{}
	info  func() any
}

func (sh *shell) run(ctx context.Context, prompt string) error {
	fmt.Fprintln(sh.out, "healthrec shell. Enter .help for usage hints.")

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          prompt,
		HistoryFile:     filepath.Join(os.TempDir(), ".healthrec_history"),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		AutoComplete:    completer,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize readline: %w", err)
	}
	defer rl.Close()

	for {
		line, err := rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) {
				if len(line) == 0 {
					return nil
				}
				continue
			}
			if errors.Is(err, io.EOF) {
				fmt.Fprintln(sh.out, "Goodbye!")
				return nil
			}
			return err
		}

		if err := sh.execute(ctx, line); err != nil {
			if errors.Is(err, errExit) {
				return nil
			}
			red.Fprintf(sh.out, "Error: %v\n", err)
		}
	}
}

// execute runs one shell line
func (sh *shell) execute(ctx context.Context, line string) error {
	args, err := splitArgs(line)
	if err != nil {
		return err
	}
	if len(args) == 0 {
		return nil
	}
	cmd, args := strings.ToLower(args[0]), args[1:]

	switch cmd {
	case ".help":
		fmt.Fprint(sh.out, shellHelp)
		return nil
	case ".exit", ".quit":
		return errExit
	case ".stats":
		if sh.stats == nil {
			return errors.New("statistics are only available on a local store")
		}
		sh.printStats(sh.stats())
		return nil
	case ".info":
		if sh.info == nil {
			return errors.New("store info is only available on a local store")
		}
		data, err := json.MarshalIndent(sh.info(), "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(sh.out, string(data))
		return nil

	case "create":
		var p record.Payload
		if err := applyFields(&p, args); err != nil {
			return err
		}
		rec, err := sh.recs.Create(ctx, p)
		if err != nil {
			return err
		}
		green.Fprintf(sh.out, "created patient %d\n", rec.ID)
		sh.printPatient(rec)
		return nil

	case "get":
		id, err := oneID(args)
		if err != nil {
			return err
		}
		rec, err := sh.recs.Get(ctx, id)
		if err != nil {
			return err
		}
		sh.printPatient(rec)
		return nil

	case "update":
		if len(args) < 2 {
			return errors.New("usage: update ID field=value ...")
		}
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		current, err := sh.recs.Get(ctx, id)
		if err != nil {
			return err
		}
		p := current.Payload()
		if err := applyFields(&p, args[1:]); err != nil {
			return err
		}
		rec, err := sh.recs.Update(ctx, id, p)
		if err != nil {
			return err
		}
		sh.printPatient(rec)
		return nil

	case "delete":
		id, err := oneID(args)
		if err != nil {
			return err
		}
		rec, err := sh.recs.Delete(ctx, id)
		if err != nil {
			return err
		}
		yellow.Fprintf(sh.out, "deleted patient %d (%s)\n", rec.ID, rec.Name)
		return nil

	case "list":
		return sh.printList(sh.recs.List(ctx))
	case "inclinic":
		return sh.printList(sh.recs.ListInClinic(ctx))
	case "sort":
		return sh.printList(sh.recs.SortByName(ctx))
	case "search", "staff":
		if len(args) == 0 {
			return fmt.Errorf("usage: %s TEXT", cmd)
		}
		text := strings.Join(args, " ")
		if cmd == "search" {
			return sh.printList(sh.recs.Search(ctx, text))
		}
		return sh.printList(sh.recs.SearchByStaff(ctx, text))

	case "page":
		if len(args) != 2 {
			return errors.New("usage: page LIMIT OFFSET")
		}
		limit, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid limit %q", args[0])
		}
		offset, err := strconv.ParseUint(args[1], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid offset %q", args[1])
		}
		return sh.printList(sh.recs.Paginate(ctx, limit, offset))

	case "presence":
		if len(args) == 0 || len(args) > 2 {
			return errors.New("usage: presence ID [in|out]")
		}
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		if len(args) == 1 {
			in, err := sh.recs.InClinic(ctx, id)
			if err != nil {
				return err
			}
			fmt.Fprintln(sh.out, presenceLabel(in))
			return nil
		}
		var in bool
		switch strings.ToLower(args[1]) {
		case "in":
			in = true
		case "out":
		default:
			return fmt.Errorf("presence must be in or out, got %q", args[1])
		}
		rec, err := sh.recs.SetPresence(ctx, id, in)
		if err != nil {
			return err
		}
		sh.printPatient(rec)
		return nil

	case "appt":
		if len(args) != 2 {
			return errors.New("usage: appt ID TIME")
		}
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		at, err := parseTime(args[1])
		if err != nil {
			return err
		}
		rec, err := sh.recs.SetNextAppointment(ctx, id, at)
		if err != nil {
			return err
		}
		sh.printPatient(rec)
		return nil

	case "history":
		id, err := oneID(args)
		if err != nil {
			return err
		}
		changes, err := sh.recs.History(ctx, id)
		if err != nil {
			return err
		}
		if len(changes) == 0 {
			faint.Fprintln(sh.out, "(no history)")
		}
		for _, c := range changes {
			fmt.Fprintf(sh.out, "%s  %s\n", formatTime(c.Timestamp), c.ChangeType)
		}
		return nil
	}

	return fmt.Errorf("unknown command %q, enter .help for usage", cmd)
}

func (sh *shell) printPatient(p *record.Patient) {
	cyan.Fprintf(sh.out, "#%d ", p.ID)
	fmt.Fprintf(sh.out, "%s  [%s]\n", p.Name, presenceLabel(p.InClinic))
	if p.StaffName != "" {
		fmt.Fprintf(sh.out, "  staff:    %s\n", p.StaffName)
	}
	if p.History != "" {
		fmt.Fprintf(sh.out, "  history:  %s\n", p.History)
	}
	if p.NextAppointment != 0 {
		fmt.Fprintf(sh.out, "  next:     %s\n", formatTime(p.NextAppointment))
	}
	faint.Fprintf(sh.out, "  created %s", formatTime(p.CreatedAt))
	if p.UpdatedAt != nil {
		faint.Fprintf(sh.out, ", updated %s", formatTime(*p.UpdatedAt))
	}
	fmt.Fprintln(sh.out)
}

func (sh *shell) printList(recs []*record.Patient, err error) error {
	if err != nil {
		return err
	}
	for _, p := range recs {
		sh.printPatient(p)
	}
	faint.Fprintf(sh.out, "%d patient(s)\n", len(recs))
	return nil
}

func (sh *shell) printStats(stats map[string]interface{}) {
	keys := make([]string, 0, len(stats))
	for k := range stats {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fmt.Fprintln(sh.out, "Store Statistics:")
	for _, k := range keys {
		fmt.Fprintf(sh.out, "  %-28s %v\n", k+":", stats[k])
	}
}

func presenceLabel(in bool) string {
	if in {
		return "in clinic"
	}
	return "not in clinic"
}

func formatTime(nanos uint64) string {
	return time.Unix(0, int64(nanos)).UTC().Format(time.RFC3339)
}

// parseTime accepts RFC 3339 or unix nanoseconds
func parseTime(s string) (time.Time, error) {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(0, n), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q, use RFC 3339 or unix nanoseconds", s)
	}
	return t, nil
}

func parseID(s string) (uint64, error) {
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid patient id %q", s)
	}
	return id, nil
}

func oneID(args []string) (uint64, error) {
	if len(args) != 1 {
		return 0, errors.New("expected exactly one patient id")
	}
	return parseID(args[0])
}

// applyFields sets payload fields from field=value arguments
func applyFields(p *record.Payload, args []string) error {
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		if !ok {
			return fmt.Errorf("expected field=value, got %q", arg)
		}
		switch strings.ToLower(key) {
		case "name":
			p.Name = value
		case "history":
			p.History = value
		case "staff":
			p.StaffName = value
		case "appt":
			at, err := parseTime(value)
			if err != nil {
				return err
			}
			p.NextAppointment = uint64(at.UnixNano())
		case "in":
			in, err := strconv.ParseBool(value)
			if err != nil {
				return fmt.Errorf("in must be true or false, got %q", value)
			}
			p.InClinic = in
		default:
			return fmt.Errorf("unknown field %q", key)
		}
	}
	return nil
}

// splitArgs splits a line with shell quoting rules, so name="Jane Doe" is
// one argument. Unquoted ; & | < > would end the line early and are
// rejected instead.
func splitArgs(line string) ([]string, error) {
	p := shellwords.NewParser()
	args, err := p.Parse(line)
	if err != nil {
		return nil, err
	}
	if p.Position >= 0 {
		return nil, fmt.Errorf("unquoted shell operator at column %d", p.Position+1)
	}
	if len(args) == 0 {
		return nil, nil
	}
	return args, nil
}
