package logging

import (
	"bytes"
	"fmt"

	log "github.com/sirupsen/logrus"
)

// CommandLineFormatter prints the message followed by the error, if any. Other fields are dropped,
// except for a stack trace, which goes on the following lines. It is used by uqctl when output is
// meant for humans.
type CommandLineFormatter struct{}

func (f *CommandLineFormatter) Format(entry *log.Entry) ([]byte, error) {
	b := &bytes.Buffer{}
	b.WriteString(entry.Message)
	if err, ok := entry.Data[log.ErrorKey]; ok {
		fmt.Fprintf(b, ": %v", err)
	}
	b.WriteByte('\n')
	if stack, ok := entry.Data[Stacktrace]; ok {
		fmt.Fprintf(b, "%v\n", stack)
	}
	return b.Bytes(), nil
}
