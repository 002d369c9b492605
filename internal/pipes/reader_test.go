//go:build unix

package pipes

import (
	"bufio"
	"os"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/donc310/psplit/internal/config"
)

func mustMkfifo(t *testing.T, path string) {
	t.Helper()
	if err := unix.Mkfifo(path, 0o644); err != nil {
		t.Fatalf("mkfifo %q: %v", path, err)
	}
}

func TestReaderFanOutTracksDisconnectAndDrop(t *testing.T) {
	r := &reader{
		src:         &config.SplitIn{Path: "unused"},
		globalExit:  NewSignal(StateRun),
		writerState: NewSignal(StateRun),
		log:         discardLogger(),
	}

	live := &destination{ch: newMessageChannel()}
	dead := &destination{ch: newMessageChannel()}
	dead.ch.close()

	r.outs = []*destination{live, dead}

	r.fanOut("one\n")
	if dead.disconnected != true {
		t.Error("dead destination should be marked disconnected after fan-out")
	}
	if live.disconnected {
		t.Error("live destination should not be marked disconnected")
	}

	// Channel capacity is 1 and not yet drained: the next line is dropped
	// for the live destination, not delivered and not an error.
	r.fanOut("two\n")
	if got := <-live.ch.lines; got != "one\n" {
		t.Fatalf("live destination received %q, want %q (line two should have been dropped)", got, "one\n")
	}
	select {
	case extra := <-live.ch.lines:
		t.Fatalf("unexpected extra line delivered: %q", extra)
	default:
	}
}

func TestReaderEndToEndFanOut(t *testing.T) {
	root := t.TempDir()
	srcPath := filepath.Join(root, "a")
	dst1 := filepath.Join(root, "b")
	dst2 := filepath.Join(root, "c")

	mustMkfifo(t, srcPath)

	src := &config.SplitIn{
		Path:   srcPath,
		Config: config.DefaultReadConfig(),
		Outputs: []*config.SplitOut{
			{Path: dst1, Config: config.DefaultWriteConfig()},
			{Path: dst2, Config: config.DefaultWriteConfig()},
		},
	}

	exit := NewSignal(StateRun)
	r := newReader(src, exit, discardLogger())
	go r.run()
	t.Cleanup(func() { exit.Store(StateExit) })

	readLine := func(path string) chan string {
		out := make(chan string, 1)
		go func() {
			for {
				if _, err := os.Stat(path); err == nil {
					break
				}
				time.Sleep(10 * time.Millisecond)
			}
			f, err := os.Open(path)
			if err != nil {
				return
			}
			defer f.Close()
			line, _ := bufio.NewReader(f).ReadString('\n')
			out <- line
		}()
		return out
	}

	got1 := readLine(dst1)
	got2 := readLine(dst2)

	// Give the reader a moment to be in Polling before the producer writes,
	// exactly as scenario S2 describes.
	time.Sleep(2 * PollInterval)

	producer, err := os.OpenFile(srcPath, os.O_WRONLY, 0)
	if err != nil {
		t.Fatalf("producer open: %v", err)
	}
	defer producer.Close()

	if _, err := producer.WriteString("x\n"); err != nil {
		t.Fatalf("producer write: %v", err)
	}

	for i, ch := range []chan string{got1, got2} {
		select {
		case line := <-ch:
			if line != "x\n" {
				t.Errorf("destination %d got %q, want %q", i, line, "x\n")
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for destination %d", i)
		}
	}
}

// TestReaderExitsPromptlyWithIdleConnectedProducer covers Testable Property
// 6 (shutdown within two polling intervals) for the specific case the
// property is easiest to get wrong: a producer is connected but has gone
// quiet, not disconnected. The reader must still notice GlobalExit without
// waiting on the producer to write or hang up, which requires the source
// fd to stay non-blocking for the lifetime of the read loop.
func TestReaderExitsPromptlyWithIdleConnectedProducer(t *testing.T) {
	root := t.TempDir()
	srcPath := filepath.Join(root, "a")
	dstPath := filepath.Join(root, "b")

	mustMkfifo(t, srcPath)

	src := &config.SplitIn{
		Path:   srcPath,
		Config: config.DefaultReadConfig(),
		Outputs: []*config.SplitOut{
			{Path: dstPath, Config: config.DefaultWriteConfig()},
		},
	}

	exit := NewSignal(StateRun)
	r := newReader(src, exit, discardLogger())

	done := make(chan struct{})
	go func() {
		r.run()
		close(done)
	}()

	// Connect a producer and send one line, then leave the connection open
	// and idle rather than closing it. A real producer with nothing left
	// to say right now looks exactly like this.
	producer, err := os.OpenFile(srcPath, os.O_WRONLY, 0)
	if err != nil {
		t.Fatalf("producer open: %v", err)
	}
	defer producer.Close()
	if _, err := producer.WriteString("x\n"); err != nil {
		t.Fatalf("producer write: %v", err)
	}

	// Let the reader observe and drain that one line. With the producer
	// still connected and idle, the reader stays in Draining, sleeping one
	// PollInterval on each would-block read.
	time.Sleep(3 * PollInterval)

	exit.Store(StateExit)

	select {
	case <-done:
	case <-time.After(2 * PollInterval * 5):
		t.Fatal("reader did not exit promptly with an idle, still-connected producer")
	}
}
