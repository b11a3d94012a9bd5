package rtc

import (
	"github.com/pion/logging"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ZerologFactory routes pion's internal logging into zerolog. pion is chatty,
// so its info level is demoted to debug.
type ZerologFactory struct {
	Logger *zerolog.Logger
}

func (f ZerologFactory) NewLogger(scope string) logging.LeveledLogger {
	base := log.Logger
	if f.Logger != nil {
		base = *f.Logger
	}
	return &zerologLeveled{l: base.With().Str("module", "pion").Str("scope", scope).Logger()}
}

type zerologLeveled struct {
	l zerolog.Logger
}

func (z *zerologLeveled) Trace(msg string)                  { z.l.Trace().Msg(msg) }
func (z *zerologLeveled) Tracef(format string, args ...any) { z.l.Trace().Msgf(format, args...) }
func (z *zerologLeveled) Debug(msg string)                  { z.l.Trace().Msg(msg) }
func (z *zerologLeveled) Debugf(format string, args ...any) { z.l.Trace().Msgf(format, args...) }
func (z *zerologLeveled) Info(msg string)                   { z.l.Debug().Msg(msg) }
func (z *zerologLeveled) Infof(format string, args ...any)  { z.l.Debug().Msgf(format, args...) }
func (z *zerologLeveled) Warn(msg string)                   { z.l.Warn().Msg(msg) }
func (z *zerologLeveled) Warnf(format string, args ...any)  { z.l.Warn().Msgf(format, args...) }
func (z *zerologLeveled) Error(msg string)                  { z.l.Error().Msg(msg) }
func (z *zerologLeveled) Errorf(format string, args ...any) { z.l.Error().Msgf(format, args...) }
