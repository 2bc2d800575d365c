package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	waLog "go.mau.fi/whatsmeow/util/log"
)

type Logger interface {
	Debug() *zerolog.Event
	Info() *zerolog.Event
	Warn() *zerolog.Event
	Error() *zerolog.Event
	Fatal() *zerolog.Event
	With() zerolog.Context
	Level(level zerolog.Level) Logger
}

// ComponentLogger - Logger com contexto de componente fixo
type ComponentLogger struct {
	logger    zerolog.Logger
	component string
}

type AppLogger struct {
	logger zerolog.Logger
}

type WhatsAppLogger struct {
	logger zerolog.Logger
	module string
}

var globalLogger *AppLogger

func Init(level string, pretty bool) {
	InitWithConfig(level, pretty, true, true)
}

func InitWithConfig(level string, pretty bool, color bool, includeCaller bool) {
	logLevel, err := zerolog.ParseLevel(level)
	if err != nil {
		logLevel = zerolog.InfoLevel
	}

	var output io.Writer = os.Stdout
	if pretty {
		output = zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: "15:04:05",
			NoColor:    !color,
			FormatLevel: func(i interface{}) string {
				if !color {
					return strings.ToUpper(fmt.Sprintf("%-5s", i))
				}
				switch i {
				case "trace":
					return "\x1b[36mTRACE\x1b[0m" // Cyan
				case "debug":
					return "\x1b[35mDEBUG\x1b[0m" // Magenta
				case "info":
					return "\x1b[32mINFO \x1b[0m" // Green
				case "warn":
					return "\x1b[33mWARN \x1b[0m" // Yellow
				case "error":
					return "\x1b[31mERROR\x1b[0m" // Red
				case "fatal":
					return "\x1b[37;41mFATAL\x1b[0m" // White on Red
				default:
					return "\x1b[37m?????\x1b[0m"
				}
			},
			FormatCaller: func(i interface{}) string {
				// Extrai apenas o nome do arquivo sem o caminho completo
				if str, ok := i.(string); ok {
					parts := strings.Split(str, ":")
					if len(parts) >= 2 {
						filename := filepath.Base(parts[0])
						if color {
							return "\x1b[90m" + filename + ":" + parts[1] + "\x1b[0m"
						}
						return filename + ":" + parts[1]
					}
				}
				if color {
					return "\x1b[90m" + fmt.Sprintf("%v", i) + "\x1b[0m"
				}
				return fmt.Sprintf("%v", i)
			},
			FormatFieldName: func(i interface{}) string {
				if color {
					return "\x1b[36m" + i.(string) + "\x1b[0m=" // Cyan
				}
				return i.(string) + "="
			},
			FormatFieldValue: func(i interface{}) string {
				if color {
					return "\x1b[37m" + fmt.Sprintf("%v", i) + "\x1b[0m" // White
				}
				return fmt.Sprintf("%v", i)
			},
		}
	}

	loggerBuilder := zerolog.New(output).Level(logLevel).With().Timestamp()
	if includeCaller {
		loggerBuilder = loggerBuilder.Caller()
	}
	logger := loggerBuilder.Logger()

	globalLogger = &AppLogger{logger: logger}
	log.Logger = logger
}

// InitSimple é uma versão simplificada que desabilita o caller por padrão
func InitSimple(level string, pretty bool) {
	InitWithConfig(level, pretty, true, false)
}

func Get() Logger {
	if globalLogger == nil {
		InitSimple("info", true)
	}
	return globalLogger
}

func GetWithSession(sessionID string) Logger {
	if globalLogger == nil {
		Init("info", true)
	}
	return &AppLogger{
		logger: globalLogger.logger.With().Str("session_id", sessionID).Logger(),
	}
}

func GetWhatsAppLogger(module string) waLog.Logger {
	if globalLogger == nil {
		Init("info", true)
	}

	return &WhatsAppLogger{
		logger: globalLogger.logger.With().Str("module", module).Logger(),
		module: module,
	}
}

func (l *AppLogger) Debug() *zerolog.Event {
	return l.logger.Debug()
}

func (l *AppLogger) Info() *zerolog.Event {
	return l.logger.Info()
}

func (l *AppLogger) Warn() *zerolog.Event {
	return l.logger.Warn()
}

func (l *AppLogger) Error() *zerolog.Event {
	return l.logger.Error()
}

func (l *AppLogger) Fatal() *zerolog.Event {
	return l.logger.Fatal()
}

func (l *AppLogger) With() zerolog.Context {
	return l.logger.With()
}

func (l *AppLogger) Level(level zerolog.Level) Logger {
	return &AppLogger{logger: l.logger.Level(level)}
}

func (w *WhatsAppLogger) Errorf(msg string, args ...interface{}) {
	w.logger.Error().Msgf(msg, args...)
}

func (w *WhatsAppLogger) Warnf(msg string, args ...interface{}) {
	w.logger.Warn().Msgf(msg, args...)
}

func (w *WhatsAppLogger) Infof(msg string, args ...interface{}) {
	w.logger.Info().Msgf(msg, args...)
}

func (w *WhatsAppLogger) Debugf(msg string, args ...interface{}) {
	w.logger.Debug().Msgf(msg, args...)
}

func (w *WhatsAppLogger) Sub(module string) waLog.Logger {
	return &WhatsAppLogger{
		logger: w.logger.With().Str("submodule", module).Logger(),
		module: w.module + "/" + module,
	}
}

// ForComponent cria um ComponentLogger com o componente fixo
func ForComponent(component string) *ComponentLogger {
	if globalLogger == nil {
		Init("info", true)
	}
	return &ComponentLogger{
		logger:    globalLogger.logger.With().Str("component", component).Logger(),
		component: component,
	}
}

// WithSession adiciona contexto de sessão ao ComponentLogger
func (cl *ComponentLogger) WithSession(sessionID string) *ComponentLogger {
	return &ComponentLogger{
		logger:    cl.logger.With().Str("session_id", sessionID).Logger(),
		component: cl.component,
	}
}

func (cl *ComponentLogger) Debug() *zerolog.Event {
	return cl.logger.Debug()
}

func (cl *ComponentLogger) Info() *zerolog.Event {
	return cl.logger.Info()
}

func (cl *ComponentLogger) Warn() *zerolog.Event {
	return cl.logger.Warn()
}

func (cl *ComponentLogger) Error() *zerolog.Event {
	return cl.logger.Error()
}

func (cl *ComponentLogger) Fatal() *zerolog.Event {
	return cl.logger.Fatal()
}

func (cl *ComponentLogger) With() zerolog.Context {
	return cl.logger.With()
}
