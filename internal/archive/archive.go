// Package archive keeps every raw API response body in daily JSON Lines
// files, gzipping each day's file once the day is over.
package archive

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const dateLayout = "2006-01-02"

// Archive handles writing API responses to files
type Archive struct {
	outputDir string
	now       func() time.Time

	mu       sync.Mutex
	file     *os.File
	day      string
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// Option configures an Archive
type Option func(*Archive)

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(a *Archive) { a.now = now }
}

// New creates a new Archive writing under outputDir
func New(outputDir string, opts ...Option) *Archive {
	a := &Archive{
		outputDir: outputDir,
		now:       time.Now,
		stopChan:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Start creates the output directory, opens today's file and starts the rotation timer
func (a *Archive) Start() error {
	if err := os.MkdirAll(a.outputDir, 0o755); err != nil {
		return fmt.Errorf("failed to create archive directory: %w", err)
	}

	a.mu.Lock()
	previous, err := a.rotateLocked()
	a.mu.Unlock()
	compress(previous)
	if err != nil {
		return err
	}

	a.wg.Add(1)
	go a.rotationTimer()

	return nil
}

// Stop closes the current file and stops the rotation timer
func (a *Archive) Stop() error {
	a.stopOnce.Do(func() { close(a.stopChan) })
	a.wg.Wait()

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.file != nil {
		err := a.file.Close()
		a.file = nil
		return err
	}
	return nil
}

// WriteMessage appends one response body as a single line. The write that
// crosses midnight also compresses the previous day's file, after releasing
// the lock.
func (a *Archive) WriteMessage(message []byte) error {
	a.mu.Lock()
	previous, err := a.rotateLocked()
	if err != nil {
		a.mu.Unlock()
		compress(previous)
		return err
	}

	var line bytes.Buffer
	if err := json.Compact(&line, message); err != nil {
		line.Reset()
		line.Write(bytes.TrimRight(message, "\n"))
	}
	line.WriteByte('\n')

	_, err = a.file.Write(line.Bytes())
	a.mu.Unlock()

	compress(previous)
	return err
}

// Path returns the file a given day is written to
func (a *Archive) Path(day time.Time) string {
	return filepath.Join(a.outputDir, fmt.Sprintf("flights_%s.jsonl", day.UTC().Format(dateLayout)))
}

// rotationTimer rotates at midnight UTC
func (a *Archive) rotationTimer() {
	defer a.wg.Done()

	for {
		now := a.now().UTC()
		nextMidnight := time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, time.UTC)
		waitTime := nextMidnight.Sub(now)

		select {
		case <-time.After(waitTime):
			a.mu.Lock()
			previous, err := a.rotateLocked()
			a.mu.Unlock()
			if err != nil {
				log.Printf("archive: error during rotation: %v", err)
			}
			compress(previous)
		case <-a.stopChan:
			return
		}
	}
}

// rotateLocked makes sure the open file is today's. When the date has
// changed it closes the previous day's file and returns its path, which the
// caller compresses once the lock is released.
func (a *Archive) rotateLocked() (string, error) {
	now := a.now()
	day := now.UTC().Format(dateLayout)
	if a.file != nil && a.day == day {
		return "", nil
	}

	var previous string
	if a.file != nil {
		previous = a.file.Name()
		if err := a.file.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "error closing archive file: %v\n", err)
		}
		a.file = nil
	}

	file, err := os.OpenFile(a.Path(now), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return previous, fmt.Errorf("failed to create archive file: %w", err)
	}

	a.file = file
	a.day = day
	return previous, nil
}

func compress(path string) {
	if path == "" {
		return
	}
	if err := compressFile(path); err != nil {
		log.Printf("archive: failed to compress %s: %v", path, err)
	}
}

// compressFile gzips path to path.gz and removes the original. The original
// is kept unless the compressed file was fully written and closed.
func compressFile(path string) error {
	source, err := os.Open(path)
	if err != nil {
		return err
	}

	err = gzipTo(path+".gz", source)
	if cerr := source.Close(); cerr != nil {
		fmt.Fprintf(os.Stderr, "error closing archive file: %v\n", cerr)
	}
	if err != nil {
		return err
	}

	return os.Remove(path)
}

// gzipTo writes the compressed content of source to a new file at target,
// removing the partial file on failure
func gzipTo(target string, source io.Reader) error {
	file, err := os.Create(target)
	if err != nil {
		return err
	}

	gzipWriter := gzip.NewWriter(file)
	_, err = io.Copy(gzipWriter, source)
	// Close the gzip writer to ensure all data is written
	if cerr := gzipWriter.Close(); err == nil {
		err = cerr
	}
	if cerr := file.Close(); err == nil {
		err = cerr
	}

	if err != nil {
		if rerr := os.Remove(target); rerr != nil {
			fmt.Fprintf(os.Stderr, "error removing partial archive: %v\n", rerr)
		}
		return err
	}
	return nil
}
