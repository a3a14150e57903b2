package cmd

import (
	"fmt"
	"io"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/monzo/slog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/monzo/supertyphon"
)

type requestOptions struct {
	headers       []string
	data          string
	contentType   string
	redirects     int
	timeout       time.Duration
	retry         int
	expectStatus  int
	expectHeaders []string
	expectBody    string
	expectExprs   []string
	verbose       bool
}

func (o *requestOptions) bind(fs *pflag.FlagSet) {
	fs.StringArrayVarP(&o.headers, "set", "H", nil, `Request header, as "Name: value" (repeatable)`)
	fs.StringVarP(&o.data, "data", "d", "", "Request body")
	fs.StringVar(&o.contentType, "type", "", `Content-Type of the body; shorthands such as "json" and "form" are expanded`)
	fs.IntVarP(&o.redirects, "redirects", "r", 0, "Number of redirects to follow (-1 for no limit)")
	fs.DurationVar(&o.timeout, "timeout", 0, "Timeout of each attempt")
	fs.IntVar(&o.retry, "retry", 0, "Number of retries of requests which fail in a retryable way")
	fs.IntVarP(&o.expectStatus, "expect-status", "s", 0, "Expected status code")
	fs.StringArrayVar(&o.expectHeaders, "expect-header", nil,
		`Expected response header, as "Name: value" or "Name: /regexp/" (repeatable)`)
	fs.StringVar(&o.expectBody, "expect-body", "", "Expected response body, exactly")
	fs.StringArrayVar(&o.expectExprs, "expect-expr", nil,
		"Boolean expression over status, header, text and body which must hold (repeatable)")
	fs.BoolVarP(&o.verbose, "verbose", "v", false, "Show verbose debug information")
}

// NewRootCmd builds the supertyphon command.
func NewRootCmd() *cobra.Command {
	o := &requestOptions{}
	cmd := &cobra.Command{
		SilenceUsage:  true,
		SilenceErrors: true,
		Use:           "supertyphon <method> <url>",
		Short:         "Makes an HTTP request and checks the response",
		Long: `Makes one HTTP request and checks the response against the given expectations, exiting non-zero if
any of them fail.`,
		Example: `  supertyphon GET http://localhost:8080/healthz -s 200
  supertyphon POST http://localhost:8080/things -d '{"name":"a"}' --type json -s 201 \
    --expect-header "Content-Type: /json/" --expect-expr 'body.name == "a"'`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if o.verbose {
				slog.SetDefaultLogger(writerLogger{w: cmd.ErrOrStderr(), min: slog.DebugSeverity})
			} else {
				slog.SetDefaultLogger(writerLogger{w: cmd.ErrOrStderr(), min: slog.WarnSeverity})
			}
			return run(cmd.OutOrStdout(), args[0], args[1], o)
		},
	}
	o.bind(cmd.Flags())
	return cmd
}

// Execute runs the root command against os.Args.
func Execute() error {
	return NewRootCmd().Execute()
}

func run(out io.Writer, method, url string, o *requestOptions) error {
	agent, err := supertyphon.New(url)
	if err != nil {
		return err
	}
	test := agent.Request(method, "").
		Redirects(o.redirects).
		Retry(o.retry)
	if o.timeout > 0 {
		test.Timeout(o.timeout)
	}
	for _, h := range o.headers {
		name, value, err := splitHeader(h)
		if err != nil {
			return err
		}
		test.Set(name, value)
	}
	if o.contentType != "" {
		test.Type(o.contentType)
	}
	if o.data != "" {
		test.Send(o.data)
	}

	if o.expectStatus != 0 {
		test.Expect(o.expectStatus)
	}
	for _, h := range o.expectHeaders {
		name, value, err := splitHeader(h)
		if err != nil {
			return err
		}
		if len(value) > 1 && strings.HasPrefix(value, "/") && strings.HasSuffix(value, "/") {
			re, err := regexp.Compile(value[1 : len(value)-1])
			if err != nil {
				return fmt.Errorf("invalid header pattern %s: %v", value, err)
			}
			test.Expect(name, re)
		} else {
			test.Expect(name, value)
		}
	}
	if o.expectBody != "" {
		test.Expect(o.expectBody)
	}
	for _, expr := range o.expectExprs {
		test.Expect(supertyphon.Expr(expr))
	}

	rsp, err := test.Await()
	if rsp != nil {
		printResponse(out, rsp)
	}
	if ae, ok := err.(*supertyphon.AssertionError); ok && ae.ShowDiff {
		return fmt.Errorf("%v\n%s", err, ae.Diff())
	}
	return err
}

func splitHeader(s string) (string, string, error) {
	name, value, ok := strings.Cut(s, ":")
	if !ok || strings.TrimSpace(name) == "" {
		return "", "", fmt.Errorf(`invalid header %q: expected "Name: value"`, s)
	}
	return strings.TrimSpace(name), strings.TrimSpace(value), nil
}

func printResponse(out io.Writer, rsp *supertyphon.Response) {
	fmt.Fprintf(out, "%s %s\n", rsp.Proto, rsp.Response.Status)
	names := make([]string, 0, len(rsp.Header))
	for name := range rsp.Header {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(out, "%s: %s\n", name, rsp.Get(name))
	}
	fmt.Fprintln(out)
	if text := rsp.Text(); text != "" {
		fmt.Fprintln(out, text)
	}
}

// writerLogger writes events at or above min to w, one per line.
type writerLogger struct {
	w   io.Writer
	min slog.Severity
}

func (l writerLogger) Log(evs ...slog.Event) {
	for _, e := range evs {
		if e.Severity >= l.min {
			fmt.Fprintln(l.w, e.String())
		}
	}
}

func (l writerLogger) Flush() error {
	return nil
}
