package types

import "time"

// Emission timezone for every timestamp the bridge writes to responses and
// logs: America/Sao_Paulo, which has no DST and sits at a fixed -03:00.
// A fixed zone avoids a tzdata dependency in minimal containers.
var SaoPaulo = time.FixedZone("-03:00", -3*60*60)

// Stamp renders an instant as ISO-8601 with the -03:00 offset attached.
func Stamp(t time.Time) string {
	return t.In(SaoPaulo).Format("2006-01-02T15:04:05.000-07:00")
}
