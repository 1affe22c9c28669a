package config_test

import (
	"bytes"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/c35s/flatvm/config"
	"github.com/google/go-cmp/cmp"
)

func writeConfig(t *testing.T, text string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "flatvm.yml")
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		t.Fatal(err)
	}

	return path
}

func TestDefault(t *testing.T) {
	cfg := config.Default()
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}

	if cfg.MemSize() != 256<<20 {
		t.Errorf("default mem size %d != %d", cfg.MemSize(), 256<<20)
	}
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
kernel: https://example.com/bzImage
mem_size_mib: 512
lock_memory: true
log_level: debug
serial_out: /tmp/serial.log
`)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatal(err)
	}

	want := config.Config{
		Kernel:     "https://example.com/bzImage",
		MemSizeMiB: 512,
		LockMemory: true,
		LogLevel:   config.Level(slog.LevelDebug),
		SerialOut:  "/tmp/serial.log",
	}

	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadPartial(t *testing.T) {
	cfg, err := config.Load(writeConfig(t, "kernel: bzImage\n"))
	if err != nil {
		t.Fatal(err)
	}

	want := config.Default()
	want.Kernel = "bzImage"

	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadInvalid(t *testing.T) {
	for name, text := range map[string]string{
		"zero memory":   "mem_size_mib: 0\n",
		"huge memory":   "mem_size_mib: 2000000\n",
		"bad log level": "log_level: loud\n",
		"empty serial":  "serial_out: \"\"\n",
	} {
		t.Run(name, func(t *testing.T) {
			if _, err := config.Load(writeConfig(t, text)); !errors.Is(err, config.ErrInvalid) {
				t.Errorf("error isn't ErrInvalid: %v", err)
			}
		})
	}
}

func TestLoadMissing(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "nope.yml"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("error isn't ErrNotExist: %v", err)
	}
}

func TestWriteRoundTrip(t *testing.T) {
	cfg := config.Default()
	cfg.Kernel = "vmlinuz"
	cfg.LogLevel = config.Level(slog.LevelWarn)

	buf := new(bytes.Buffer)
	if err := cfg.Write(buf); err != nil {
		t.Fatal(err)
	}

	got, err := config.Load(writeConfig(t, buf.String()))
	if err != nil {
		t.Fatal(err)
	}

	if diff := cmp.Diff(cfg, got); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
}
