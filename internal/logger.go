package internal

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

type Importance string

const (
	Info    Importance = " "
	Warning Importance = "?"
	Error   Importance = "!"
	Raw     Importance = "-"
)

// Logger writes feature events asynchronously: the console line goes through
// logrus, the record itself lands in the sys_log collection when a database
// is attached.
type Logger struct {
	database  Database
	location  *time.Location
	debugMode bool
	console   *logrus.Logger
	writer    chan *LogEvent
}

type LogEvent struct {
	Importance Importance
	Message    *FeatureLogMessage
}

func NewLogger(location *time.Location) *Logger {
	console := logrus.New()
	console.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	logger := &Logger{
		location: location,
		console:  console,
		writer:   make(chan *LogEvent, 100),
	}
	go logger.startWriter()
	return logger
}

func (l *Logger) startWriter() {
	for event := range l.writer {
		message := event.Message
		entry := l.console.WithFields(logrus.Fields{
			"feature":         message.Feature,
			"charge_point_id": message.ChargePointId,
		})
		switch event.Importance {
		case Warning:
			entry.Warn(message.Text)
		case Error:
			entry.Error(message.Text)
		case Raw:
			entry.Debug(message.Text)
		default:
			entry.Info(message.Text)
		}

		if l.database != nil {
			if err := l.database.WriteLogMessage(message); err != nil {
				l.console.WithError(err).Error("write log to database failed")
			}
		}
	}
}

func (l *Logger) SetDebugMode(debugMode bool) {
	l.debugMode = debugMode
	if debugMode {
		l.console.SetLevel(logrus.DebugLevel)
	}
}

func (l *Logger) SetDatabase(database Database) {
	l.database = database
}

func logTime(t time.Time) string {
	return fmt.Sprintf("%d-%02d-%02d %02d:%02d:%02d", t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second())
}

func (l *Logger) FeatureEvent(feature, id, text string) {
	l.logEvent(Info, l.newFeatureLogMessage(feature, id, text))
}

func (l *Logger) Debug(text string) {
	l.logEvent(Info, l.newFeatureLogMessage("info", "", text))
}

func (l *Logger) Warn(text string) {
	l.logEvent(Warning, l.newFeatureLogMessage("warning", "", text))
}

func (l *Logger) Error(text string, err error) {
	l.logEvent(Error, l.newFeatureLogMessage("error", "", fmt.Sprintf("%s: %s", text, err)))
}

func (l *Logger) RawDataEvent(direction, data string) {
	if l.debugMode {
		l.logEvent(Raw, l.newFeatureLogMessage("raw", "", fmt.Sprintf("%s: %s", direction, data)))
	}
}

func (l *Logger) logEvent(importance Importance, message *FeatureLogMessage) {
	if message.ChargePointId == "" {
		message.ChargePointId = "*"
	}
	message.Importance = string(importance)
	l.writer <- &LogEvent{Importance: importance, Message: message}
}

func (l *Logger) newFeatureLogMessage(feature, id, text string) *FeatureLogMessage {
	now := time.Now()
	if l.location != nil {
		now = now.In(l.location)
	}
	return &FeatureLogMessage{
		Time:          logTime(now),
		TimeStamp:     time.Now().UTC(),
		Text:          text,
		Feature:       feature,
		ChargePointId: id,
	}
}
