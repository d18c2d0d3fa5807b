package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/ibus-bridge/internal/config"
	"github.com/banshee-data/ibus-bridge/internal/ibus"
	"github.com/banshee-data/ibus-bridge/internal/serialmux"
	"github.com/banshee-data/ibus-bridge/internal/version"
)

// errRestartRequested is returned by run when a bus write failed and the
// bridge should be restarted by its supervisor.
var errRestartRequested = errors.New("restart requested")

// devFrame is replayed in dev mode: source 0x68, destination 0x18,
// payload 01 02 03.
var devFrame = []byte{0x68, 0x05, 0x18, 0x01, 0x02, 0x03, 0x75}

type cliFlags struct {
	configPath  *string
	port        *string
	baud        *int
	parity      *string
	debug       *bool
	dev         *bool
	output      *string
	send        *string
	showVersion *bool
}

func registerFlags(fs *flag.FlagSet) *cliFlags {
	return &cliFlags{
		configPath:  fs.String("config", "", "Path to a .json or .toml bridge config file"),
		port:        fs.String("port", serialmux.DefaultPortPath, "Serial port of the bus adapter (ignored in dev mode)"),
		baud:        fs.Int("baud", serialmux.DefaultBaudRate, "Baud rate"),
		parity:      fs.String("parity", "E", "Parity: N, E or O"),
		debug:       fs.Bool("debug", false, "Log every chunk read from the port in hex"),
		dev:         fs.Bool("dev", false, "Replay a built-in frame instead of opening a serial port"),
		output:      fs.String("output", config.OutputStdout, "Where decoded packets go: stdout or none"),
		send:        fs.String("send", "", "Hex encoded frame to write to the bus after start up"),
		showVersion: fs.Bool("version", false, "Print version information and exit"),
	}
}

// loadConfig reads the config file, if any, and applies flags that were set
// explicitly on the command line on top of it.
func loadConfig(fs *flag.FlagSet, f *cliFlags) (*config.BridgeConfig, error) {
	cfg := &config.BridgeConfig{}
	if *f.configPath != "" {
		var err error
		cfg, err = config.LoadBridgeConfig(*f.configPath)
		if err != nil {
			return nil, err
		}
	}

	fs.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "port":
			cfg.SetPort(*f.port)
		case "baud":
			cfg.SetBaudRate(*f.baud)
		case "parity":
			cfg.SetParity(*f.parity)
		case "debug":
			cfg.SetDebug(*f.debug)
		case "output":
			cfg.SetOutput(*f.output)
		}
	})

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// outputBuffer is how many batches an output may fall behind the reader
// before it starts missing them.
const outputBuffer = 64

// outputs fans decoded packets out to the configured consumers, each
// draining its own subscription so a slow writer never stalls the reader.
type outputs struct {
	b  *ibus.Broadcaster
	wg sync.WaitGroup
}

// startOutputs subscribes one consumer per destination: hex lines to w
// unless output is none, and decoded packets to the log in debug mode. It
// returns nil when packets go nowhere.
func startOutputs(output string, debug bool, w io.Writer) *outputs {
	if output == config.OutputNone && !debug {
		return nil
	}
	o := &outputs{b: ibus.NewBroadcaster()}
	if output != config.OutputNone {
		o.attach(ibus.WriterSink{W: w})
	}
	if debug {
		o.attach(ibus.SinkFunc(func(packets []ibus.Packet) error {
			for _, p := range packets {
				log.Printf("packet %s", p)
			}
			return nil
		}))
	}
	return o
}

func (o *outputs) attach(sink ibus.Sink) {
	_, ch := o.b.Subscribe(outputBuffer)
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		for packets := range ch {
			if err := sink.AcceptPackets(packets); err != nil {
				log.Printf("output failed: %v", err)
			}
		}
	}()
}

// sink is the Sink the reader loop dispatches to.
func (o *outputs) sink() ibus.Sink {
	if o == nil {
		return nil
	}
	return o.b
}

// Close stops the fan-out and waits for every consumer to drain.
func (o *outputs) Close() {
	if o == nil {
		return
	}
	o.b.Close()
	o.wg.Wait()
	if n := o.b.Dropped(); n > 0 {
		log.Printf("outputs missed %d packet batch(es)", n)
	}
}

// replayFactory opens a ReplayPort in place of the serial device.
func replayFactory() serialmux.SerialPortFactory {
	return serialmux.SerialPortOpener(func(path string, mode *serialmux.SerialPortMode) (serialmux.SerialPorter, error) {
		port := serialmux.NewReplayPort(devFrame, 500*time.Millisecond)
		port.OnWrite = func(b []byte) { log.Printf("dev mode: wrote % x", b) }
		return port, nil
	})
}

// run monitors the bus until ctx is cancelled, the port fails, or a write
// failure asks for a restart.
func run(ctx context.Context, mux serialmux.SerialMuxInterface, restart <-chan error, send string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	monitorErr := make(chan error, 1)

	// run the monitor routine to manage IO on the serial port
	wg.Add(1)
	go func() {
		defer wg.Done()
		monitorErr <- mux.Monitor(ctx)
		log.Print("monitor routine terminated")
	}()

	if send != "" {
		if err := mux.WriteHex(send); err != nil {
			log.Printf("failed to send %q: %v", send, err)
		} else {
			log.Printf("sent %s", send)
		}
	}

	var err error
	select {
	case err = <-monitorErr:
	case rerr := <-restart:
		cancel()
		<-monitorErr
		err = fmt.Errorf("%w: %w", errRestartRequested, rerr)
	}
	wg.Wait()

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func main() {
	f := registerFlags(flag.CommandLine)
	flag.Parse()

	if *f.showVersion {
		fmt.Println(version.String())
		return
	}

	cfg, err := loadConfig(flag.CommandLine, f)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	out := startOutputs(cfg.GetOutput(), cfg.GetDebug(), os.Stdout)
	restart := make(chan error, 1)
	opts := serialmux.Options{
		MaxReadBytes: cfg.GetMaxReadBytes(),
		Debug:        cfg.GetDebug(),
		Sink:         out.sink(),
		OnWriteError: func(err error) {
			select {
			case restart <- err:
			default:
			}
		},
	}

	var mux *serialmux.SerialMux[serialmux.SerialPorter]
	if *f.dev {
		mux, err = serialmux.OpenSerialMux(replayFactory(), cfg.GetPort(), cfg.PortOptions(), opts)
	} else {
		mux, err = serialmux.NewRealSerialMux(cfg.GetPort(), cfg.PortOptions(), opts)
	}
	if err != nil {
		log.Fatalf("failed to open bus adapter: %v", err)
	}
	log.Printf("%s listening on %s", version.String(), cfg.GetPort())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err = run(ctx, mux, restart, *f.send)
	stop()

	if cerr := mux.Close(); cerr != nil {
		log.Printf("failed to close serial port: %v", cerr)
	}
	out.Close()
	if err != nil {
		log.Printf("bridge stopped: %v", err)
		os.Exit(1)
	}
	log.Printf("Graceful shutdown complete")
}
