package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	log "github.com/go-pkgz/lgr"
	gonotify "github.com/go-pkgz/notify"
	"github.com/go-pkgz/repeater"
	"github.com/go-pkgz/repeater/strategy"
	"github.com/umputun/go-flags"
	"gopkg.in/natefinch/lumberjack.v2"
	"gopkg.in/yaml.v3"

	"github.com/umputun/nanoledger/app/apikey"
	"github.com/umputun/nanoledger/app/common"
	"github.com/umputun/nanoledger/app/jobs"
	"github.com/umputun/nanoledger/app/notify"
	"github.com/umputun/nanoledger/app/store"
	"github.com/umputun/nanoledger/app/uploads"
)

type options struct {
	Data   string `short:"d" long:"data" env:"NANOLEDGER_DATA" description:"data directory, defaults to user config dir"`
	Format string `long:"format" env:"NANOLEDGER_FORMAT" choice:"yaml" choice:"json" default:"yaml" description:"output format"`
	Dbg    bool   `long:"dbg" env:"NANOLEDGER_DEBUG" description:"debug mode"`

	Log struct {
		Enabled         bool   `long:"enabled" env:"ENABLED" description:"enable logging to file"`
		Filename        string `long:"filename" env:"FILENAME" description:"log file name, defaults to <data>/nanoledger.log"`
		MaxSize         int    `long:"max-size" env:"MAX_SIZE" default:"100" description:"max log file size in MB"`
		MaxBackups      int    `long:"max-backups" env:"MAX_BACKUPS" default:"7" description:"max number of rotated files"`
		MaxAge          int    `long:"max-age" env:"MAX_AGE" default:"30" description:"max age of rotated files in days"`
		EnabledCompress bool   `long:"compress" env:"COMPRESS" description:"compress rotated files"`
	} `group:"log" namespace:"log" env-namespace:"NANOLEDGER_LOG"`

	Open struct {
		Attempts int           `long:"attempts" env:"ATTEMPTS" default:"5" description:"attempts to open the database"`
		Duration time.Duration `long:"duration" env:"DURATION" default:"100ms" description:"initial delay between attempts"`
		Factor   float64       `long:"factor" env:"FACTOR" default:"2" description:"backoff factor"`
	} `group:"open" namespace:"open" env-namespace:"NANOLEDGER_OPEN"`

	Server struct {
		Listen     string  `long:"listen" env:"LISTEN" default:"127.0.0.1:8765" description:"bridge listen address"`
		UploadRate float64 `long:"upload-rate" env:"UPLOAD_RATE" default:"5" description:"upload requests per second"`
	} `group:"server" namespace:"server" env-namespace:"NANOLEDGER_SERVER"`

	Sweep struct {
		Schedule string        `long:"schedule" env:"SCHEDULE" default:"@every 1h" description:"temp sweep cron schedule, empty to disable"`
		MaxAge   time.Duration `long:"max-age" env:"MAX_AGE" default:"24h" description:"remove temp files older than this"`
	} `group:"sweep" namespace:"sweep" env-namespace:"NANOLEDGER_SWEEP"`

	Notify struct {
		EnabledError      bool          `long:"enabled-error" env:"ENABLED_ERROR" description:"email about failed and partial jobs"`
		EnabledCompletion bool          `long:"enabled-complete" env:"ENABLED_COMPLETE" description:"email about completed jobs"`
		SMTPHost          string        `long:"smtp-host" env:"SMTP_HOST" description:"SMTP host"`
		SMTPPort          int           `long:"smtp-port" env:"SMTP_PORT" default:"25" description:"SMTP port"`
		SMTPUsername      string        `long:"smtp-username" env:"SMTP_USERNAME" description:"SMTP user name"`
		SMTPPassword      string        `long:"smtp-password" env:"SMTP_PASSWORD" description:"SMTP password"`
		SMTPTLS           bool          `long:"smtp-tls" env:"SMTP_TLS" description:"enable SMTP TLS"`
		SMTPTimeOut       time.Duration `long:"smtp-timeout" env:"SMTP_TIMEOUT" default:"10s" description:"SMTP TCP connection timeout"`
		From              string        `long:"from" env:"FROM" description:"SMTP from email"`
		To                []string      `long:"to" env:"TO" env-delim:"," description:"SMTP to email(s)"`
		HostName          string        `long:"host" env:"HOSTNAME" description:"host name reported in notifications"`
	} `group:"notify" namespace:"notify" env-namespace:"NANOLEDGER_NOTIFY"`

	Serve  serveCmd  `command:"serve" description:"run local http bridge and temp sweeper"`
	Jobs   jobsCmd   `command:"jobs" description:"list jobs, newest first"`
	Show   showCmd   `command:"show" description:"show job with its items"`
	Rm     rmCmd     `command:"rm" description:"delete job with its items"`
	Key    keyCmd    `command:"key" description:"manage provider api key"`
	Upload uploadCmd `command:"upload" description:"copy images into uploads directory"`
	Schema schemaCmd `command:"schema" description:"print json schema of bridge records"`
}

var opts options

var revision = "unknown"

// stdout is the destination of command results, logs go to stderr or the log file
var stdout io.Writer = os.Stdout

func main() {
	p := newParser()
	if _, err := p.Parse(); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) {
			if flagsErr.Type == flags.ErrHelp {
				fmt.Println(err)
				os.Exit(0)
			}
			fmt.Fprintln(os.Stderr, err)
			os.Exit(2)
		}
		fmt.Fprintf(os.Stderr, "error [%s]: %v\n", common.KindOf(err), err)
		os.Exit(1)
	}
}

// newParser makes flags parser with logging set up right before the selected command runs
func newParser() *flags.Parser {
	p := flags.NewParser(&opts, flags.HelpFlag|flags.PassDoubleDash)
	p.CommandHandler = func(cmd flags.Commander, args []string) error {
		if cmd == nil {
			return nil
		}
		if err := resolveDataDir(); err != nil {
			return err
		}
		setupLog(opts.Dbg, setupLogs())
		return cmd.Execute(args)
	}
	return p
}

// app holds everything a command needs, built from options
type app struct {
	dirs    dataDirs
	store   *store.Store
	jobs    *jobs.Repository
	keys    *apikey.Store
	uploads *uploads.Manager
}

// dataDirs is the layout of the data directory
type dataDirs struct {
	root    string
	uploads string
	results string
	temp    string
}

// withApp prepares data directory, opens the store and runs fn. The store is closed when fn returns.
func withApp(ctx context.Context, fn func(ctx context.Context, a *app) error) error {
	dirs, err := prepareDataDir(opts.Data)
	if err != nil {
		return err
	}
	st, err := openStore(ctx, dirs.root)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Printf("[WARN] failed to close store, %v", err)
		}
	}()

	up, err := uploads.New(dirs.uploads)
	if err != nil {
		return err
	}
	return fn(ctx, &app{dirs: dirs, store: st, jobs: jobs.New(st), keys: apikey.New(st), uploads: up})
}

// prepareDataDir makes the data directory with uploads, results and temp in it
func prepareDataDir(dir string) (dataDirs, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return dataDirs{}, fmt.Errorf("%w: can't get absolute path of %s: %w", common.ErrIO, dir, err)
	}
	res := dataDirs{
		root:    abs,
		uploads: filepath.Join(abs, "uploads"),
		results: filepath.Join(abs, "results"),
		temp:    filepath.Join(abs, "temp"),
	}
	for _, d := range []string{res.root, res.uploads, res.results, res.temp} {
		if err := os.MkdirAll(d, 0o700); err != nil {
			return dataDirs{}, fmt.Errorf("%w: can't make %s: %w", common.ErrIO, d, err)
		}
	}
	return res, nil
}

// openStore opens the store with backoff, a previous instance may still be closing the database
func openStore(ctx context.Context, dir string) (*store.Store, error) {
	attempts := max(opts.Open.Attempts, 1)
	rptr := repeater.New(&strategy.Backoff{Repeats: attempts, Duration: opts.Open.Duration,
		Factor: opts.Open.Factor, Jitter: true})

	var res *store.Store
	err := rptr.Do(ctx, func() error {
		st, err := store.Open(dir)
		if err != nil {
			log.Printf("[WARN] can't open store in %s, %v", dir, err)
			return err
		}
		res = st
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open store after %d attempts: %w", attempts, err)
	}
	return res, nil
}

// makeNotifier makes job notifications service, nil if disabled
func makeNotifier() *notify.Service {
	return notify.NewService(
		notify.Params{
			EnabledError:      opts.Notify.EnabledError,
			EnabledCompletion: opts.Notify.EnabledCompletion,
			HostName:          makeHostName(),
			Timeout:           opts.Notify.SMTPTimeOut,
		},
		notify.SendersParams{
			SMTP: gonotify.SMTPParams{
				Host:     opts.Notify.SMTPHost,
				Port:     opts.Notify.SMTPPort,
				TLS:      opts.Notify.SMTPTLS,
				Username: opts.Notify.SMTPUsername,
				Password: opts.Notify.SMTPPassword,
				TimeOut:  opts.Notify.SMTPTimeOut,
			},
			FromEmail: opts.Notify.From,
			ToEmails:  opts.Notify.To,
		},
	)
}

func makeHostName() string {
	if opts.Notify.HostName != "" {
		return opts.Notify.HostName
	}
	host, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return host
}

// resolveDataDir sets default data directory if not set explicitly
func resolveDataDir() error {
	if opts.Data != "" {
		return nil
	}
	cfg, err := os.UserConfigDir()
	if err != nil {
		return fmt.Errorf("can't detect user config dir, set --data: %w", err)
	}
	opts.Data = filepath.Join(cfg, "nanoledger")
	return nil
}

// printOut writes v to stdout in the selected format
func printOut(v any) error {
	if opts.Format == "json" {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("failed to encode json: %w", err)
		}
		return nil
	}
	enc := yaml.NewEncoder(stdout)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode yaml: %w", err)
	}
	return enc.Close()
}

// setupLogs returns log destination, rotated file if enabled, stderr otherwise
func setupLogs() io.Writer {
	if !opts.Log.Enabled {
		return os.Stderr
	}
	filename := opts.Log.Filename
	if filename == "" {
		filename = filepath.Join(opts.Data, "nanoledger.log")
	}
	return &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    opts.Log.MaxSize,
		MaxBackups: opts.Log.MaxBackups,
		MaxAge:     opts.Log.MaxAge,
		Compress:   opts.Log.EnabledCompress,
	}
}

func setupLog(dbg bool, out io.Writer) {
	if dbg {
		log.Setup(log.Debug, log.Msec, log.CallerFunc, log.CallerPkg, log.CallerFile, log.Out(out), log.Err(out))
		return
	}
	log.Setup(log.Msec, log.Out(out), log.Err(out))
}

func signals(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	go func() {
		stacktrace := make([]byte, 8192)
		for sig := range sigChan {
			if sig == syscall.SIGQUIT { // catch SIGQUIT and print stack traces
				length := runtime.Stack(stacktrace, true)
				fmt.Fprintln(os.Stderr, string(stacktrace[:length]))
				continue
			}
			log.Printf("[INFO] got %s, terminating", sig)
			cancel()
		}
	}()
	signal.Notify(sigChan, syscall.SIGQUIT, syscall.SIGTERM, syscall.SIGINT)
}
