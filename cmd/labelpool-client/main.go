package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"image/color"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/menta2k/labelpool"
	"github.com/menta2k/labelpool/internal/config"
	"github.com/menta2k/labelpool/pkg/classes"
	"github.com/menta2k/labelpool/pkg/editor"
	"github.com/menta2k/labelpool/pkg/processing"
	"github.com/menta2k/labelpool/pkg/remote"
	"github.com/menta2k/labelpool/pkg/session"
	"github.com/menta2k/labelpool/pkg/viewport"
)

const helpText = `commands:
  next | n                 save and show the next image
  back | b                 save and show the previous image
  submit | s               save the current labels
  predict | p              merge model predictions into the current labels
  auto on|off              toggle prediction on unlabeled images
  list | ls                show the current boxes
  history                  show the visited images
  view W H                 resize the display
  edit on|off              hold or release the edit modifier
  press X Y                pointer down at display coordinates
  drag X Y                 pointer move
  release X Y              pointer up
  draw X1 Y1 X2 Y2         press, drag and release in one step
  delete X Y               delete the topmost box under the point
  hover X Y                show the pointer hint
  class                    list classes
  class add|rm|use NAME    manage classes
  class up|down            select the previous or next class
  save PATH                render the labels over the image to PATH
  help | quit`

// app wires one session to the editing state machine
type app struct {
	sess      *session.Session
	classes   *classes.Registry
	mapper    *viewport.Mapper
	editor    *editor.Editor
	processor *processing.Processor
	out       io.Writer
}

func newApp(api session.API, user string, opts session.Options, viewW, viewH int, out io.Writer) *app {
	a := &app{
		mapper:    viewport.New(0, 0),
		processor: processing.NewProcessor(),
		out:       out,
	}
	if opts.Classes == nil {
		opts.Classes = classes.New(uint64(time.Now().UnixNano()))
	}
	a.classes = opts.Classes
	if opts.Status == nil {
		opts.Status = func(s string) { fmt.Fprintf(out, "[%s]\n", s) }
	}
	opts.OnLoad = func(img *remote.Image) {
		a.mapper.SetImage(img.Width, img.Height)
		if a.editor != nil {
			a.editor.Reset()
		}
	}
	a.sess = session.New(api, user, opts)
	a.mapper.Resize(float64(viewW), float64(viewH))
	a.editor = editor.New(a.mapper, a.sess.Labels(), a.classes)
	return a
}

// exec runs one command line. It returns io.EOF on quit.
func (a *app) exec(ctx context.Context, line string) error {
	f := strings.Fields(line)
	if len(f) == 0 {
		return nil
	}
	cmd, args := strings.ToLower(f[0]), f[1:]

	switch cmd {
	case "quit", "exit", "q":
		return io.EOF
	case "help", "h", "?":
		fmt.Fprintln(a.out, helpText)
	case "next", "n":
		if a.sess.Current() == nil {
			return a.sess.LoadNext(ctx)
		}
		return a.sess.GoForward(ctx)
	case "back", "b":
		return a.sess.GoBack(ctx)
	case "submit", "s":
		if err := a.sess.Submit(ctx); err != nil {
			return err
		}
		fmt.Fprintln(a.out, "saved")
	case "predict", "p":
		return a.sess.Predict(ctx)
	case "auto":
		on, err := parseSwitch(args)
		if err != nil {
			return err
		}
		a.sess.SetAutoPredict(ctx, on)
	case "list", "ls":
		a.list()
	case "history":
		items, cursor := a.sess.History()
		for i, name := range items {
			mark := " "
			if i == cursor {
				mark = ">"
			}
			fmt.Fprintf(a.out, "%s %d %s\n", mark, i, name)
		}
	case "view":
		n, err := parseNumbers(args, 2)
		if err != nil {
			return err
		}
		a.mapper.Resize(n[0], n[1])
	case "edit":
		on, err := parseSwitch(args)
		if err != nil {
			return err
		}
		a.editor.SetEditMode(on)
	case "press", "drag", "release", "delete", "hover":
		if a.sess.Current() == nil {
			return session.ErrNoImage
		}
		n, err := parseNumbers(args, 2)
		if err != nil {
			return err
		}
		a.pointer(cmd, viewport.Point{X: n[0], Y: n[1]})
	case "draw":
		if a.sess.Current() == nil {
			return session.ErrNoImage
		}
		n, err := parseNumbers(args, 4)
		if err != nil {
			return err
		}
		end := viewport.Point{X: n[2], Y: n[3]}
		a.editor.PointerDown(viewport.Point{X: n[0], Y: n[1]})
		a.editor.PointerDrag(end)
		a.editor.PointerUp(end)
		a.list()
	case "class":
		return a.class(args)
	case "save":
		if len(args) != 1 {
			return fmt.Errorf("usage: save PATH")
		}
		return a.save(args[0])
	default:
		return fmt.Errorf("unknown command %q (try help)", cmd)
	}
	return nil
}

func (a *app) pointer(cmd string, p viewport.Point) {
	switch cmd {
	case "press":
		a.editor.PointerDown(p)
		fmt.Fprintf(a.out, "mode: %s\n", a.editor.Mode())
	case "drag":
		a.editor.PointerDrag(p)
		if b, ok := a.editor.Preview(); ok {
			fmt.Fprintf(a.out, "preview: %.0f,%.0f %.0f,%.0f\n", b.X1, b.Y1, b.X2, b.Y2)
		}
	case "release":
		a.editor.PointerUp(p)
		a.list()
	case "delete":
		if !a.editor.Secondary(p) {
			fmt.Fprintln(a.out, "no box there")
			return
		}
		a.list()
	case "hover":
		fmt.Fprintln(a.out, cursorName(a.editor.Hover(p)))
	}
}

func (a *app) class(args []string) error {
	if len(args) == 0 {
		current := a.classes.Current()
		for _, name := range a.classes.Names() {
			mark := " "
			if name == current {
				mark = "*"
			}
			fmt.Fprintf(a.out, "%s %s %s\n", mark, name, a.classes.Color(name))
		}
		return nil
	}
	switch args[0] {
	case "up":
		fmt.Fprintln(a.out, a.classes.Prev())
	case "down":
		fmt.Fprintln(a.out, a.classes.Next())
	case "add", "rm", "use":
		if len(args) != 2 {
			return fmt.Errorf("usage: class %s NAME", args[0])
		}
		name := args[1]
		var ok bool
		switch args[0] {
		case "add":
			ok = a.classes.Add(name)
		case "rm":
			ok = a.classes.Remove(name)
		default:
			ok = a.classes.Select(name)
		}
		if !ok {
			return fmt.Errorf("class %s: nothing changed", name)
		}
	default:
		return fmt.Errorf("unknown class command %q", args[0])
	}
	return nil
}

func (a *app) list() {
	labels := a.sess.Labels()
	sel, hasSel := a.editor.Selected()
	if labels.Len() == 0 {
		fmt.Fprintln(a.out, "no boxes")
		return
	}
	for i, l := range labels.Boxes {
		mark := " "
		if hasSel && i == sel {
			mark = "*"
		}
		fmt.Fprintf(a.out, "%s %d %s %.1f,%.1f %.1f,%.1f\n", mark, i, l.Class, l.Box.X1, l.Box.Y1, l.Box.X2, l.Box.Y2)
	}
}

// save renders the current labels over the image
func (a *app) save(path string) error {
	img := a.sess.Current()
	if img == nil {
		return session.ErrNoImage
	}
	decoded, err := a.processor.DecodeImage(img.Data)
	if err != nil {
		return err
	}
	out := a.processor.RenderLabels(decoded, a.sess.Labels().Clone(), func(class string) color.NRGBA {
		return processing.ParseHexColor(a.classes.Ensure(class))
	})
	format := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	if err := a.processor.SaveImage(out, path, format, 92, false); err != nil {
		return fmt.Errorf("failed to save %s: %w", path, err)
	}
	fmt.Fprintf(a.out, "wrote %s\n", path)
	return nil
}

func cursorName(c editor.Cursor) string {
	switch c {
	case editor.CursorResize:
		return "resize"
	case editor.CursorMove:
		return "move"
	case editor.CursorArrow:
		return "arrow"
	default:
		return "crosshair"
	}
}

func parseSwitch(args []string) (bool, error) {
	if len(args) == 1 {
		switch strings.ToLower(args[0]) {
		case "on", "true", "1":
			return true, nil
		case "off", "false", "0":
			return false, nil
		}
	}
	return false, fmt.Errorf("expected on or off")
}

func parseNumbers(args []string, n int) ([]float64, error) {
	if len(args) != n {
		return nil, fmt.Errorf("expected %d numbers", n)
	}
	out := make([]float64, n)
	for i, s := range args {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("bad number %q", s)
		}
		out[i] = v
	}
	return out, nil
}

func main() {
	var configPath, server, user, logLevel string
	var auto bool

	flag.StringVar(&configPath, "config", "", "config file (default ~/.config/labelpool/config.json if present)")
	flag.StringVar(&server, "server", "", "server address, e.g. 192.168.1.10:8000")
	flag.StringVar(&user, "user", "", "annotator name")
	flag.BoolVar(&auto, "auto", false, "predict unlabeled images on load")
	flag.StringVar(&logLevel, "log-level", "warn", "log level: debug|info|warn|error")
	flag.Parse()

	cfg := config.Default()
	if configPath == "" {
		if p := config.GetConfigPath(); p != "" {
			if _, err := os.Stat(p); err == nil {
				configPath = p
			}
		}
	}
	if configPath != "" {
		loaded, err := config.LoadFromFile(configPath)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		cfg = loaded
	}
	if err := cfg.ApplyEnv(); err != nil {
		log.Fatalf("Invalid environment: %v", err)
	}
	if server != "" {
		cfg.Client.ServerURL = server
	}
	if user != "" {
		cfg.Client.User = user
	}
	if auto {
		cfg.Client.AutoPredict = true
	}
	if cfg.Client.ServerURL == "" || cfg.Client.User == "" {
		log.Fatalf("usage: %s -server host:port -user name [-auto]", filepath.Base(os.Args[0]))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	logger := labelpool.NewLogger(os.Stderr, logLevel)
	c, err := remote.NewClient(cfg.Client.ServerURL)
	if err != nil {
		log.Fatal(err)
	}
	h, err := c.Health(ctx)
	if err != nil {
		log.Fatalf("Connection failed: %v", err)
	}
	fmt.Printf("connected to %s (model: %s)\n", c.BaseURL(), h.Model)

	a := newApp(c, cfg.Client.User, session.Options{
		Logger:        logger,
		AutoPredict:   cfg.Client.AutoPredict,
		UploadQuality: cfg.Client.UploadQuality,
	}, cfg.Client.ViewWidth, cfg.Client.ViewHeight, os.Stdout)

	if err := a.exec(ctx, "next"); err != nil {
		report(err)
	}

	in := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !in.Scan() {
			break
		}
		err := a.exec(ctx, in.Text())
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			report(err)
		}
	}

	// Keep whatever is on screen
	if a.sess.Current() != nil {
		if err := a.sess.Submit(context.Background()); err != nil {
			report(err)
		}
	}
}

func report(err error) {
	switch {
	case errors.Is(err, remote.ErrPoolExhausted):
		fmt.Println("no more images to label")
	case errors.Is(err, session.ErrHistoryStart):
		fmt.Println("already at the first image")
	default:
		fmt.Printf("error: %v\n", err)
	}
}
