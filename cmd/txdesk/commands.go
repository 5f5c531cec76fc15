package main

import (
	"bufio"
	"errors"
	"fmt"
	"github.com/rs/xid"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"txdesk/internal/api"
	"txdesk/internal/export"
	"txdesk/internal/render"
	"txdesk/internal/review"
	"txdesk/internal/server"
	"txdesk/internal/storage/journal"
	"txdesk/internal/task"
)

const resetPrompt = "Are you sure you want to reset the database? This will delete all records. [y/N] "

func uploadCommand() *cli.Command {
	return &cli.Command{
		Name:      "upload",
		Usage:     "upload files as one batch and wait until every file is processed",
		ArgsUsage: "FILE...",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "report",
				Usage: "write per-file outcomes of the batch as CSV to `PATH`",
			},
		},
		Action: upload,
	}
}

func viewCommand() *cli.Command {
	return &cli.Command{
		Name:  "view",
		Usage: "show the transactions database",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "xlsx",
				Usage: "also save the table as a workbook to `PATH`",
			},
		},
		Action: view,
	}
}

func searchCommand() *cli.Command {
	return &cli.Command{
		Name:      "search",
		Usage:     "show records matching TERM, without TERM the whole database",
		ArgsUsage: "[TERM]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "xlsx",
				Usage: "also save the table as a workbook to `PATH`",
			},
		},
		Action: search,
	}
}

func resetCommand() *cli.Command {
	return &cli.Command{
		Name:  "reset",
		Usage: "delete every record of the transactions database",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "yes",
				Usage: "do not ask for confirmation",
			},
		},
		Action: reset,
	}
}

func historyCommand() *cli.Command {
	return &cli.Command{
		Name:      "history",
		Usage:     "list recorded batches, or show one batch by its id",
		ArgsUsage: "[BATCH_ID]",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "limit",
				Value: 20,
				Usage: "show at most `N` batches, 0 shows all",
			},
			&cli.StringFlag{
				Name:  "state",
				Usage: "show only completed or canceled batches",
			},
		},
		Action: history,
	}
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:   "serve",
		Usage:  "run the review console on TXDESK_LISTEN_ADDR",
		Action: serve,
	}
}

// batchPrinter writes batch events as they are recorded
type batchPrinter struct {
	mu  sync.Mutex
	out *render.Text
}

func (p *batchPrinter) say(f func(out *render.Text)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	f(p.out)
}

func (p *batchPrinter) TaskFailed(_ xid.ID, o task.Outcome) {
	p.say(func(out *render.Text) {
		out.FileError(render.FileError{Filename: o.Task.Filename, Message: o.Error})
	})
}

func (p *batchPrinter) BatchCompleted(s task.Snapshot) {
	p.say(func(out *render.Text) {
		out.Response(render.Response{Summary: &s.Stats})
	})
}

func upload(c *cli.Context) error {
	e, err := newEnv(c)
	if err != nil {
		return err
	}
	defer e.close()

	files, err := openFiles(c.Args().Slice())
	if err != nil {
		return err
	}
	defer closeFiles(e.logger, files)

	if len(files) == 0 {
		return failure(task.ErrNoFiles)
	}

	printer := &batchPrinter{out: e.out}
	options := []task.Option{
		task.WithPollInterval(e.cfg.PollInterval),
		task.WithListener(printer),
	}

	j, err := e.openJournal()
	if err != nil {
		return err
	}
	if j != nil {
		defer closeJournal(e.logger, j)
		options = append(options, task.WithRecorder(j))
	}

	coordinator, err := task.NewCoordinator(e.logger.Named("task"), e.client, options...)
	if err != nil {
		return err
	}
	defer coordinator.Close()

	printer.say(func(out *render.Text) {
		out.Response(render.Message(render.ClassNone, "Uploading files..."))
	})

	b, err := coordinator.Submit(c.Context, apiFiles(files))
	if err != nil {
		return failure(err)
	}

	printer.say(func(out *render.Text) {
		out.Response(render.Response{Processing: true})
	})

	s, waitErr := b.Wait(c.Context)
	if waitErr != nil {
		// retires the batch as canceled so the journal and the report see the final state
		coordinator.Close()
		s = b.Snapshot()
	}

	if path := c.String("report"); path != "" {
		if err := writeFile(path, func(f *os.File) error { return export.WriteReport(f, s) }); err != nil {
			return err
		}
	}

	if waitErr != nil {
		return errors.New("processing was interrupted")
	}

	v, err := e.viewer()
	if err != nil {
		return err
	}

	l, err := v.View(c.Context)
	if err != nil {
		e.out.Response(render.Failure(err))
		return nil
	}
	e.out.Listing(l)

	return nil
}

func view(c *cli.Context) error {
	return list(c, "Transactions", func(v *review.Viewer) (review.Listing, error) {
		return v.View(c.Context)
	})
}

func search(c *cli.Context) error {
	term := strings.Join(c.Args().Slice(), " ")
	return list(c, "Search", func(v *review.Viewer) (review.Listing, error) {
		return v.Search(c.Context, term)
	})
}

func list(c *cli.Context, sheet string, load func(v *review.Viewer) (review.Listing, error)) error {
	e, err := newEnv(c)
	if err != nil {
		return err
	}
	defer e.close()

	v, err := e.viewer()
	if err != nil {
		return err
	}

	l, err := load(v)
	if err != nil {
		return failure(err)
	}

	e.out.Listing(l)

	if path := c.String("xlsx"); path != "" {
		return writeFile(path, func(f *os.File) error { return export.WriteWorkbook(f, sheet, l.Table) })
	}

	return nil
}

func reset(c *cli.Context) error {
	e, err := newEnv(c)
	if err != nil {
		return err
	}
	defer e.close()

	v, err := e.viewer()
	if err != nil {
		return err
	}

	msg, err := v.Reset(c.Context, func() bool {
		if c.Bool("yes") {
			return true
		}

		fmt.Fprint(c.App.Writer, resetPrompt)
		answer, _ := bufio.NewReader(c.App.Reader).ReadString('\n')
		switch strings.ToLower(strings.TrimSpace(answer)) {
		case "y", "yes":
			return true
		default:
			return false
		}
	})
	switch {
	case errors.Is(err, review.ErrNotConfirmed):
		fmt.Fprintln(c.App.Writer, "Reset canceled")
		return nil
	case err != nil:
		return failure(err)
	}

	e.out.Response(render.Message(render.ClassSuccess, msg))

	l, err := v.View(c.Context)
	if err != nil {
		return failure(err)
	}
	e.out.Listing(l)

	return nil
}

func history(c *cli.Context) error {
	e, err := newEnv(c)
	if err != nil {
		return err
	}
	defer e.close()

	j, err := e.openJournal()
	if err != nil {
		return err
	}
	if j == nil {
		return errJournalDisabled
	}
	defer closeJournal(e.logger, j)

	if c.Args().Present() {
		r, err := j.Get(c.Args().First())
		if err != nil {
			return fmt.Errorf("batch %s: %w", c.Args().First(), err)
		}
		e.out.Record(r)
		return nil
	}

	options := []journal.ListOption{journal.WithLimit(c.Int("limit"))}
	if s := c.String("state"); s != "" {
		state, err := task.ParseBatchState(s)
		if err != nil {
			return err
		}
		options = append(options, journal.WithState(state))
	}

	records, err := j.List(options...)
	if err != nil {
		return err
	}
	e.out.History(records)

	return nil
}

func serve(c *cli.Context) error {
	e, err := newEnv(c)
	if err != nil {
		return err
	}
	defer e.close()

	options := []task.Option{task.WithPollInterval(e.cfg.PollInterval)}

	j, err := e.openJournal()
	if err != nil {
		return err
	}
	if j != nil {
		defer closeJournal(e.logger, j)
		options = append(options, task.WithRecorder(j))
	}

	coordinator, err := task.NewCoordinator(e.logger.Named("task"), e.client, options...)
	if err != nil {
		return err
	}
	// runs before the journal is closed so retired batches are still recorded
	defer coordinator.Close()

	v, err := e.viewer()
	if err != nil {
		return err
	}

	srv, err := server.NewServer(e.logger.Named("server"), e.cfg.ListenAddr, coordinator, v, e.cfg.PollInterval)
	if err != nil {
		return err
	}

	srv.RegisterAfterShutdown(func() error {
		coordinator.Close()
		return nil
	})

	return srv.Start(c.Context)
}

type openedFile struct {
	name string
	file *os.File
}

func openFiles(paths []string) ([]openedFile, error) {
	files := make([]openedFile, 0, len(paths))
	for _, path := range paths {
		f, err := os.Open(path)
		if err != nil {
			for _, opened := range files {
				_ = opened.file.Close()
			}
			return nil, fmt.Errorf("failed to open %s: %w", path, err)
		}
		files = append(files, openedFile{name: filepath.Base(path), file: f})
	}
	return files, nil
}

func apiFiles(files []openedFile) []api.File {
	out := make([]api.File, 0, len(files))
	for _, f := range files {
		out = append(out, api.File{Name: f.name, Content: f.file})
	}
	return out
}

func closeFiles(logger *zap.Logger, files []openedFile) {
	for _, f := range files {
		if err := f.file.Close(); err != nil {
			logger.Warn("failed to close file", zap.String("filename", f.name), zap.Error(err))
		}
	}
}

func closeJournal(logger *zap.Logger, j *journal.Journal) {
	if err := j.Close(); err != nil {
		logger.Error("failed to close journal", zap.Error(err))
	}
}

func writeFile(path string, write func(f *os.File) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}

	if err := write(f); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}

	return f.Close()
}
