package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/stemsi/exstem-taker/internal/exam"
)

// ErrQuit is returned by Execute for the quit command.
var ErrQuit = errors.New("quit")

// ExamCommands is what the REPL drives; *exam.Controller satisfies it.
type ExamCommands interface {
	Snapshot() exam.Snapshot
	RecordAnswer(questionNumber int, value string) error
	RetryFailed() (int, error)
	SetPage(page int) error
	RequestFinish() error
	RequestExit() error
	Cancel() error
	Confirm() error
	Done() <-chan struct{}
}

const helpText = `commands:
  status              show time left, page and answers
  answer <q> <value>  record an answer (alias: a)
  page <n>            show another page of the paper
  retry               resend answers that failed to save
  finish              submit the test (asks for confirmation)
  exit                leave without submitting (asks for confirmation)
  yes | no            answer the open confirmation
  help                this text
`

// REPL reads commands from a line-oriented input and applies them to one
// exam session.
type REPL struct {
	exam    ExamCommands
	console *Console
}

// NewREPL creates a REPL for e printing to console.
func NewREPL(e ExamCommands, console *Console) *REPL {
	return &REPL{exam: e, console: console}
}

// Run serves commands until the session ends, input is exhausted or ctx
// is cancelled.
func (r *REPL) Run(ctx context.Context, in io.Reader) error {
	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- sc.Err()
	}()

	r.console.Printf("%s", helpText)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.exam.Done():
			return nil
		case err := <-readErr:
			return err
		case line := <-lines:
			if err := r.Execute(line); err != nil {
				if errors.Is(err, ErrQuit) {
					return nil
				}
				r.console.Printf("error: %v\n", err)
			}
		}
	}
}

// Execute applies one command line.
func (r *REPL) Execute(line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}

	switch strings.ToLower(fields[0]) {
	case "help", "?":
		r.console.Printf("%s", helpText)
	case "status", "s":
		r.printStatus(r.exam.Snapshot())
	case "answer", "a":
		if len(fields) < 3 {
			return errors.New("usage: answer <question> <value>")
		}
		q, err := strconv.Atoi(fields[1])
		if err != nil {
			return fmt.Errorf("question must be a number: %q", fields[1])
		}
		return r.exam.RecordAnswer(q, strings.Join(fields[2:], " "))
	case "page", "p":
		if len(fields) != 2 {
			return errors.New("usage: page <n>")
		}
		n, err := strconv.Atoi(fields[1])
		if err != nil {
			return fmt.Errorf("page must be a number: %q", fields[1])
		}
		if err := r.exam.SetPage(n); err != nil {
			return err
		}
		r.printPage(r.exam.Snapshot())
	case "retry":
		n, err := r.exam.RetryFailed()
		if err != nil {
			return err
		}
		r.console.Printf("resending %d answer(s)\n", n)
	case "finish":
		if err := r.exam.RequestFinish(); err != nil {
			return err
		}
		r.console.Printf("Submit your answers? (yes/no)\n")
	case "exit":
		if err := r.exam.RequestExit(); err != nil {
			return err
		}
		r.console.Printf("Leave the test without submitting? (yes/no)\n")
	case "yes", "y":
		return r.exam.Confirm()
	case "no", "n":
		return r.exam.Cancel()
	case "quit":
		return ErrQuit
	default:
		return fmt.Errorf("unknown command %q (try help)", fields[0])
	}
	return nil
}

func (r *REPL) printStatus(s exam.Snapshot) {
	name := ""
	if s.Test != nil {
		name = s.Test.Name
	}
	r.console.Printf("%s  [%s]  time left %s\n", name, s.Status, FormatClock(s.TimeLeft))
	r.printPage(s)
	if len(s.Answers) == 0 {
		r.console.Printf("no answers yet\n")
		return
	}
	for _, a := range s.Answers {
		r.console.Printf("  %3d: %-6s %s\n", a.QuestionNumber, a.Value, a.Status)
	}
	if n := s.Unsynced(); n > 0 {
		r.console.Printf("%d answer(s) not saved yet\n", n)
	}
}

func (r *REPL) printPage(s exam.Snapshot) {
	if s.Pages > 0 {
		r.console.Printf("page %d/%d", s.Page, s.Pages)
	} else {
		r.console.Printf("page %d", s.Page)
	}
	if !s.VisibleQuestions.Empty() {
		r.console.Printf(", questions %d-%d", s.VisibleQuestions.First, s.VisibleQuestions.Last)
	}
	r.console.Printf("\n")
}

// FormatClock renders seconds as MM:SS, or H:MM:SS from an hour up.
func FormatClock(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	h, m, s := seconds/3600, seconds/60%60, seconds%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}
