// Package notify runs the external notify-command spec.md section 6
// describes: an operator-supplied executable invoked with NOTIFY_* in its
// environment whenever a receiver-side transform finalises a file. Ported
// from original_source/src/cmdnotify.cc, using os/exec in place of the
// original's raw fork/execve/dup2 sequence.
package notify

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"

	"go.uber.org/zap"
)

// Command wraps one configured notify executable for a (topic, partition).
type Command struct {
	cmd       string
	wdir      string
	topic     string
	partition int32
	log       *zap.Logger
}

// New returns a Command, or nil if cmd is empty (notify not configured).
func New(cmd, wdir, topic string, partition int32, log *zap.Logger) *Command {
	if cmd == "" {
		return nil
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Command{cmd: cmd, wdir: wdir, topic: topic, partition: partition, log: log}
}

// Exec runs the configured command in the background with NOTIFY_TOPIC,
// NOTIFY_PARTITION, NOTIFY_FILE and NOTIFY_ORIFILE in its environment, plus
// NOTIFY_TIMESTAMP and NOTIFY_SIZE unless the value is -1, and NOTIFY_MD5
// when md5 is non-empty.
func (c *Command) Exec(file, oriFile string, timestamp, size int64, md5 string) {
	env := append(os.Environ(),
		fmt.Sprintf("NOTIFY_TOPIC=%s", c.topic),
		fmt.Sprintf("NOTIFY_PARTITION=%d", c.partition),
		fmt.Sprintf("NOTIFY_FILE=%s", file),
		fmt.Sprintf("NOTIFY_ORIFILE=%s", oriFile),
	)
	if timestamp != -1 {
		env = append(env, fmt.Sprintf("NOTIFY_TIMESTAMP=%d", timestamp))
	}
	if size != -1 {
		env = append(env, fmt.Sprintf("NOTIFY_SIZE=%s", strconv.FormatInt(size, 10)))
	}
	if md5 != "" {
		env = append(env, fmt.Sprintf("NOTIFY_MD5=%s", md5))
	}

	cmd := exec.Command(c.cmd)
	cmd.Env = env

	logPath := filepath.Join(c.wdir, fmt.Sprintf("%s.%d.notify.log", c.topic, c.partition))
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		c.log.Warn("notify: open log file failed, discarding output", zap.String("path", logPath), zap.Error(err))
	} else {
		cmd.Stdout = logFile
		cmd.Stderr = logFile
	}

	if err := cmd.Start(); err != nil {
		c.log.Error("notify: exec failed", zap.String("cmd", c.cmd), zap.Error(err))
		if logFile != nil {
			logFile.Close()
		}
		return
	}

	go func() {
		_ = cmd.Wait()
		if logFile != nil {
			logFile.Close()
		}
	}()
}
