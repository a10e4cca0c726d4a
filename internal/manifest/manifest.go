package manifest

import (
	"bufio"
	"errors"
	"io/fs"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// KeepFlashes is how many runs Last remembers per device.
const KeepFlashes = 50

func GetSystemInfo() SystemInfo {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}

	info := SystemInfo{Hostname: hostname, OS: "unknown", Kernel: "unknown"}
	if f, err := os.Open("/etc/os-release"); err == nil {
		defer f.Close()
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			if v, ok := strings.CutPrefix(scanner.Text(), "PRETTY_NAME="); ok {
				info.OS = strings.Trim(v, `"`)
				break
			}
		}
	}
	if data, err := os.ReadFile("/proc/sys/kernel/osrelease"); err == nil {
		info.Kernel = strings.TrimSpace(string(data))
	}

	return info
}

func Write(filename string, m *Flash) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return err
	}
	return os.WriteFile(filename, data, 0o644)
}

func Read(filename string) (*Flash, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	var m Flash
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func WriteLast(filename string, last *Last) error {
	data, err := yaml.Marshal(last)
	if err != nil {
		return err
	}
	return os.WriteFile(filename, data, 0o644)
}

func ReadLast(filename string) (*Last, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	var last Last
	if err := yaml.Unmarshal(data, &last); err != nil {
		return nil, err
	}
	return &last, nil
}

// AppendLast adds ref to the index at filename, creating it when missing
// and dropping the oldest entries beyond KeepFlashes.
func AppendLast(filename, device string, ref *Ref) error {
	last, err := ReadLast(filename)
	if errors.Is(err, fs.ErrNotExist) {
		last = &Last{Device: device}
	} else if err != nil {
		return err
	}

	last.Flashes = append(last.Flashes, ref)
	if n := len(last.Flashes); n > KeepFlashes {
		last.Flashes = last.Flashes[n-KeepFlashes:]
	}
	return WriteLast(filename, last)
}
