package main

import (
	"context"
	"encoding/json"
	"fmt"

	log "github.com/go-pkgz/lgr"

	"github.com/umputun/nanoledger/app/server"
	"github.com/umputun/nanoledger/app/store/enums"
	"github.com/umputun/nanoledger/app/sweeper"
)

type serveCmd struct{}

// Execute runs the bridge and the temp sweeper until SIGTERM/SIGINT
func (c *serveCmd) Execute(_ []string) error {
	log.Printf("[INFO] nanoledger %s, data in %s", revision, opts.Data)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	signals(cancel)
	return c.run(ctx)
}

func (c *serveCmd) run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	return withApp(ctx, func(ctx context.Context, a *app) error {
		if n := makeNotifier(); n != nil {
			a.jobs.SetNotifier(n)
		}
		srv, err := server.New(server.Config{Jobs: a.jobs, Keys: a.keys, Uploads: a.uploads, DataDir: a.dirs.root,
			Version: revision, UploadRate: opts.Server.UploadRate})
		if err != nil {
			return err
		}

		sweepDone := make(chan struct{})
		if opts.Sweep.Schedule != "" {
			sw := &sweeper.Sweeper{Dir: a.dirs.temp, MaxAge: opts.Sweep.MaxAge, Refs: a.jobs}
			go func() {
				defer close(sweepDone)
				if err := sw.Run(ctx, opts.Sweep.Schedule); err != nil {
					log.Printf("[WARN] temp sweeper disabled, %v", err)
				}
			}()
		} else {
			close(sweepDone)
		}

		err = srv.Run(ctx, opts.Server.Listen)
		cancel()
		<-sweepDone
		return err
	})
}

type jobsCmd struct {
	Active bool `long:"active" description:"only pending and processing jobs"`
}

// Execute lists jobs
func (c *jobsCmd) Execute(_ []string) error {
	filter := enums.FilterAll
	if c.Active {
		filter = enums.FilterActive
	}
	return withApp(context.Background(), func(ctx context.Context, a *app) error {
		res, err := a.jobs.List(ctx, filter)
		if err != nil {
			return err
		}
		return printOut(res)
	})
}

type jobArgs struct {
	ID string `positional-arg-name:"id" required:"yes"`
}

type showCmd struct {
	Args jobArgs `positional-args:"yes" required:"yes"`
}

// Execute prints job with its items
func (c *showCmd) Execute(_ []string) error {
	return withApp(context.Background(), func(ctx context.Context, a *app) error {
		res, err := a.jobs.Get(ctx, c.Args.ID)
		if err != nil {
			return err
		}
		return printOut(res)
	})
}

type rmCmd struct {
	Args jobArgs `positional-args:"yes" required:"yes"`
}

// Execute deletes job
func (c *rmCmd) Execute(_ []string) error {
	return withApp(context.Background(), func(ctx context.Context, a *app) error {
		if err := a.jobs.Delete(ctx, c.Args.ID); err != nil {
			return err
		}
		return printOut(map[string]string{"deleted": c.Args.ID})
	})
}

type keyCmd struct {
	Set    keySetCmd    `command:"set" description:"save api key"`
	Status keyStatusCmd `command:"status" description:"show whether api key is set, masked"`
	Rm     keyRmCmd     `command:"rm" description:"delete api key"`
}

type keySetCmd struct {
	Args struct {
		Key string `positional-arg-name:"key" required:"yes"`
	} `positional-args:"yes" required:"yes"`
}

// Execute saves the key and prints its masked status
func (c *keySetCmd) Execute(_ []string) error {
	return withApp(context.Background(), func(ctx context.Context, a *app) error {
		if err := a.keys.Save(ctx, c.Args.Key); err != nil {
			return err
		}
		st, err := a.keys.Status(ctx)
		if err != nil {
			return err
		}
		return printOut(st)
	})
}

type keyStatusCmd struct{}

// Execute prints key status
func (c *keyStatusCmd) Execute(_ []string) error {
	return withApp(context.Background(), func(ctx context.Context, a *app) error {
		st, err := a.keys.Status(ctx)
		if err != nil {
			return err
		}
		return printOut(st)
	})
}

type keyRmCmd struct{}

// Execute deletes the key
func (c *keyRmCmd) Execute(_ []string) error {
	return withApp(context.Background(), func(ctx context.Context, a *app) error {
		if err := a.keys.Delete(ctx); err != nil {
			return err
		}
		st, err := a.keys.Status(ctx)
		if err != nil {
			return err
		}
		return printOut(st)
	})
}

type uploadCmd struct {
	Args struct {
		Files []string `positional-arg-name:"file" required:"1"`
	} `positional-args:"yes" required:"yes"`
}

// Execute copies files into uploads directory
func (c *uploadCmd) Execute(_ []string) error {
	return withApp(context.Background(), func(ctx context.Context, a *app) error {
		res, err := a.uploads.Upload(ctx, c.Args.Files)
		if err != nil {
			return err
		}
		return printOut(res)
	})
}

type schemaCmd struct{}

// Execute prints json schema, always as json
func (c *schemaCmd) Execute(_ []string) error {
	data, err := json.MarshalIndent(server.Schema(), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal schema: %w", err)
	}
	_, err = fmt.Fprintln(stdout, string(data))
	return err
}
