package scpi

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/homelab-rf/rfpm/pkg/cal"
	"github.com/homelab-rf/rfpm/pkg/config"
	"github.com/homelab-rf/rfpm/pkg/meter"
	"github.com/homelab-rf/rfpm/pkg/monitor"
)

// notANumber is the SCPI representation of an unavailable reading.
const notANumber = "9.91E37"

// NetworkInfo supplies the link-layer facts reported by SYSTem:NET.
type NetworkInfo interface {
	IP() string
	MAC() string
}

// handler executes one command form. A nil entry means the form (set or
// query) is not defined for the path.
type handler func(cmd *Command) (string, *Error)

type entry struct {
	set   handler
	query handler
}

// Dispatcher maps parsed commands onto the live instrument state.
type Dispatcher struct {
	meter    *meter.Meter
	errors   *ErrorQueue
	identity config.IdentityConfig
	net      NetworkInfo
	table    map[string]entry
}

// NewDispatcher builds the command table against the given meter. net may
// be nil when the instrument has no link (queries report zero values).
func NewDispatcher(m *meter.Meter, identity config.IdentityConfig, net NetworkInfo) *Dispatcher {
	d := &Dispatcher{
		meter:    m,
		errors:   NewErrorQueue(),
		identity: identity,
		net:      net,
	}
	d.table = map[string]entry{
		"*IDN": {query: d.queryIdn},
		"*RST": {set: d.cmdRst},
		"*OPC": {set: d.cmdOpc, query: d.queryOpc},
		"*CLS": {set: d.cmdCls},

		"MEASure:POWer":         {set: d.cmdMeasure, query: d.queryPower},
		"MEASure:POWer:UNIT":    {set: d.cmdUnit, query: d.queryUnit},
		"MEASure:POWer:AVERage": {set: d.cmdAverage, query: d.queryAverage},
		"MEASure:VOLTage":       {set: d.cmdMeasure, query: d.queryVoltage},

		"SENSe:FREQuency":         {set: d.cmdFrequency, query: d.queryFrequency},
		"SENSe:FREQuency:CATalog": {query: d.queryFreqCatalog},
		"SENSe:ATTenuation":       {set: d.cmdAttenuation, query: d.queryAttenuation},

		"CALibrate:POWer:OFFSet":  {set: d.cmdCalOffset, query: d.queryCalOffset},
		"CALibrate:POWer:SLOPe":   {set: d.cmdCalSlope, query: d.queryCalSlope},
		"CALibrate:POWer:SAVE":    {set: d.cmdCalSave},
		"CALibrate:POWer:RESTore": {set: d.cmdCalRestore},
		"CALibrate:SENSor:TYPE":   {query: d.querySensorType},
		"CALibrate:SENSor:SERial": {query: d.querySensorSerial},

		"SYSTem:ERRor":   {query: d.queryError},
		"SYSTem:VERSion": {query: d.queryVersion},
		"SYSTem:NET:IP":  {query: d.queryIP},
		"SYSTem:NET:MAC": {query: d.queryMAC},
	}
	return d
}

// Errors exposes the error queue (shared with the server for tests).
func (d *Dispatcher) Errors() *ErrorQueue {
	return d.errors
}

// ExecuteLine handles one physical line: semicolon-separated commands are
// processed in order and their replies joined with a semicolon.
func (d *Dispatcher) ExecuteLine(line string) (string, bool) {
	var replies []string
	for _, part := range strings.Split(line, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if reply, ok := d.Execute(part); ok {
			replies = append(replies, reply)
		}
	}
	if len(replies) == 0 {
		return "", false
	}
	return strings.Join(replies, ";"), true
}

// Execute parses and dispatches a single command. Failures queue an error
// and come back as a negative-acknowledgement reply; the session stays
// open either way.
func (d *Dispatcher) Execute(line string) (string, bool) {
	monitor.CommandsProcessed.Inc()

	cmd, err := Parse(line)
	if err != nil {
		monitor.CommandErrors.Inc()
		se, _ := err.(*SyntaxError)
		e := syntaxToError(se)
		d.errors.Add(e)
		return nak(e), true
	}

	ent, ok := d.table[cmd.Path]
	if !ok {
		// Well-formed prefix of the tree with no operation bound to it.
		return d.fail(newError(CodeUndefinedHeader, "Undefined header: %s", cmd.Path))
	}

	h := ent.set
	if cmd.Query {
		h = ent.query
	}
	if h == nil {
		return d.fail(newError(CodeUndefinedHeader, "Undefined header: %s", line))
	}

	reply, herr := h(cmd)
	if herr != nil {
		d.errors.Add(herr)
		monitor.CommandErrors.Inc()
		if reply != "" {
			return reply, true
		}
		return nak(herr), true
	}
	return reply, reply != ""
}

func (d *Dispatcher) fail(e *Error) (string, bool) {
	monitor.CommandErrors.Inc()
	d.errors.Add(e)
	return nak(e), true
}

func nak(e *Error) string {
	return fmt.Sprintf("ERROR %d,%q", e.Code, e.Message)
}

func syntaxToError(se *SyntaxError) *Error {
	if se == nil {
		return newError(CodeSyntaxError, "Syntax error")
	}
	switch se.Kind {
	case UnknownKeyword:
		return newError(CodeUndefinedHeader, "Undefined header: %s", se.Segment)
	case InvalidSuffix:
		return newError(CodeSuffixOutOfRange, "Header suffix out of range: %s", se.Segment)
	case MalformedArgument:
		return newError(CodeCommandError, "Malformed argument: %s", se.Segment)
	default:
		return newError(CodeSyntaxError, "Syntax error: %s", se.Segment)
	}
}

// channel resolves the command's channel suffix to a live channel.
func (d *Dispatcher) channel(cmd *Command) (*meter.Channel, *Error) {
	n := cmd.Channel(1)
	ch := d.meter.Channel(n)
	if ch == nil {
		return nil, newError(CodeSuffixOutOfRange, "Header suffix out of range: channel %d", n)
	}
	return ch, nil
}

func argFloat(cmd *Command, idx int) (float64, *Error) {
	if idx >= len(cmd.Args) {
		return 0, newError(CodeCommandError, "Missing parameter")
	}
	v, err := strconv.ParseFloat(cmd.Args[idx], 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, newError(CodeIllegalParameter, "Illegal parameter value: %s", cmd.Args[idx])
	}
	return v, nil
}

// === IEEE 488.2 common commands ===

func (d *Dispatcher) queryIdn(cmd *Command) (string, *Error) {
	return fmt.Sprintf("%s,%s,%s,%s",
		d.identity.Manufacturer, d.identity.Model, d.identity.Serial, d.identity.Version), nil
}

func (d *Dispatcher) cmdRst(cmd *Command) (string, *Error) {
	d.meter.Reset()
	return "", nil
}

func (d *Dispatcher) cmdOpc(cmd *Command) (string, *Error) {
	return "", nil
}

func (d *Dispatcher) queryOpc(cmd *Command) (string, *Error) {
	// All operations complete synchronously.
	return "1", nil
}

func (d *Dispatcher) cmdCls(cmd *Command) (string, *Error) {
	d.errors.Clear()
	return "", nil
}

// === Measurement ===

func (d *Dispatcher) cmdMeasure(cmd *Command) (string, *Error) {
	ch, err := d.channel(cmd)
	if err != nil {
		return "", err
	}
	if terr := d.meter.TriggerReading(ch.Index()); terr != nil {
		return "", newError(CodeHardwareMissing, "Hardware missing: no sensor on channel %d", ch.Index())
	}
	return "", nil
}

func (d *Dispatcher) queryPower(cmd *Command) (string, *Error) {
	ch, err := d.channel(cmd)
	if err != nil {
		return "", err
	}
	if !ch.Present() {
		return notANumber, newError(CodeHardwareMissing, "Hardware missing: no sensor on channel %d", ch.Index())
	}
	// MEASure semantics: acquire a fresh sample rather than report the
	// last scheduled one.
	if terr := d.meter.TriggerReading(ch.Index()); terr != nil {
		return notANumber, newError(CodeHardwareMissing, "Hardware missing: no sensor on channel %d", ch.Index())
	}
	value, _, ok := ch.Power()
	if !ok {
		return notANumber, newError(CodeDataStale, "Data stale on channel %d", ch.Index())
	}
	return fmt.Sprintf("%.3f", value), nil
}

func (d *Dispatcher) queryVoltage(cmd *Command) (string, *Error) {
	ch, err := d.channel(cmd)
	if err != nil {
		return "", err
	}
	if !ch.Present() {
		return notANumber, newError(CodeHardwareMissing, "Hardware missing: no sensor on channel %d", ch.Index())
	}
	if terr := d.meter.TriggerReading(ch.Index()); terr != nil {
		return notANumber, newError(CodeHardwareMissing, "Hardware missing: no sensor on channel %d", ch.Index())
	}
	v, ok := ch.Voltage()
	if !ok {
		return notANumber, newError(CodeDataStale, "Data stale on channel %d", ch.Index())
	}
	return fmt.Sprintf("%.6f", v), nil
}

func (d *Dispatcher) cmdUnit(cmd *Command) (string, *Error) {
	ch, err := d.channel(cmd)
	if err != nil {
		return "", err
	}
	if len(cmd.Args) == 0 {
		return "", newError(CodeCommandError, "Missing parameter")
	}
	unit, ok := cal.ParseUnit(strings.ToUpper(cmd.Args[0]))
	if !ok {
		return "", newError(CodeIllegalParameter, "Illegal parameter value: %s", cmd.Args[0])
	}
	ch.SetUnit(unit)
	return "", nil
}

func (d *Dispatcher) queryUnit(cmd *Command) (string, *Error) {
	ch, err := d.channel(cmd)
	if err != nil {
		return "", err
	}
	return string(ch.Unit()), nil
}

func (d *Dispatcher) cmdAverage(cmd *Command) (string, *Error) {
	ch, err := d.channel(cmd)
	if err != nil {
		return "", err
	}
	v, aerr := argFloat(cmd, 0)
	if aerr != nil {
		return "", aerr
	}
	n := int(v)
	if float64(n) != v || n < 1 || n > 256 {
		return "", newError(CodeDataOutOfRange, "Averaging count out of range: %s", cmd.Args[0])
	}
	ch.SetAveraging(n)
	return "", nil
}

func (d *Dispatcher) queryAverage(cmd *Command) (string, *Error) {
	ch, err := d.channel(cmd)
	if err != nil {
		return "", err
	}
	return strconv.Itoa(ch.Averaging()), nil
}

// === Frequency and attenuation ===

func (d *Dispatcher) cmdFrequency(cmd *Command) (string, *Error) {
	ch, err := d.channel(cmd)
	if err != nil {
		return "", err
	}
	if !ch.Present() {
		return "", newError(CodeHardwareMissing, "Hardware missing: no sensor on channel %d", ch.Index())
	}
	v, aerr := argFloat(cmd, 0)
	if aerr != nil {
		return "", aerr
	}
	if v < 0 {
		return "", newError(CodeDataOutOfRange, "Frequency out of range: %s", cmd.Args[0])
	}
	ch.SetFrequency(v)
	return "", nil
}

func (d *Dispatcher) queryFrequency(cmd *Command) (string, *Error) {
	ch, err := d.channel(cmd)
	if err != nil {
		return "", err
	}
	return strconv.FormatFloat(ch.Frequency(), 'f', -1, 64), nil
}

func (d *Dispatcher) queryFreqCatalog(cmd *Command) (string, *Error) {
	ch, err := d.channel(cmd)
	if err != nil {
		return "", err
	}
	catalog := ch.Catalog()
	if len(catalog) == 0 {
		return `""`, nil
	}
	parts := make([]string, len(catalog))
	for i, f := range catalog {
		parts[i] = strconv.Itoa(int(f))
	}
	return strings.Join(parts, ","), nil
}

func (d *Dispatcher) cmdAttenuation(cmd *Command) (string, *Error) {
	ch, err := d.channel(cmd)
	if err != nil {
		return "", err
	}
	v, aerr := argFloat(cmd, 0)
	if aerr != nil {
		return "", aerr
	}
	ch.SetAttenuator(v)
	return "", nil
}

func (d *Dispatcher) queryAttenuation(cmd *Command) (string, *Error) {
	ch, err := d.channel(cmd)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%.1f", ch.Attenuator()), nil
}

// === Calibration ===

func (d *Dispatcher) cmdCalOffset(cmd *Command) (string, *Error) {
	ch, err := d.channel(cmd)
	if err != nil {
		return "", err
	}
	v, aerr := argFloat(cmd, 0)
	if aerr != nil {
		return "", aerr
	}
	if serr := ch.SetCalOffset(v); serr != nil {
		return "", calError(serr, ch.Index())
	}
	return "", nil
}

func (d *Dispatcher) queryCalOffset(cmd *Command) (string, *Error) {
	ch, err := d.channel(cmd)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%.3f", ch.CalOffset()), nil
}

func (d *Dispatcher) cmdCalSlope(cmd *Command) (string, *Error) {
	ch, err := d.channel(cmd)
	if err != nil {
		return "", err
	}
	v, aerr := argFloat(cmd, 0)
	if aerr != nil {
		return "", aerr
	}
	if serr := ch.SetCalSlope(v); serr != nil {
		return "", calError(serr, ch.Index())
	}
	return "", nil
}

func (d *Dispatcher) queryCalSlope(cmd *Command) (string, *Error) {
	ch, err := d.channel(cmd)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%.6f", ch.CalSlope()), nil
}

func (d *Dispatcher) cmdCalSave(cmd *Command) (string, *Error) {
	ch, err := d.channel(cmd)
	if err != nil {
		return "", err
	}
	if serr := d.meter.SaveCalibration(ch.Index()); serr != nil {
		if meter.ErrNoSensor(serr) {
			return "", newError(CodeHardwareMissing, "Hardware missing: no sensor on channel %d", ch.Index())
		}
		return "", newError(CodeDeviceError, "Calibration save failed: %v", serr)
	}
	return "", nil
}

func (d *Dispatcher) cmdCalRestore(cmd *Command) (string, *Error) {
	ch, err := d.channel(cmd)
	if err != nil {
		return "", err
	}
	if serr := ch.RestoreCalibration(); serr != nil {
		return "", calError(serr, ch.Index())
	}
	return "", nil
}

func (d *Dispatcher) querySensorType(cmd *Command) (string, *Error) {
	ch, err := d.channel(cmd)
	if err != nil {
		return "", err
	}
	if t := ch.SensorType(); t != "" {
		return t, nil
	}
	return "NONE", nil
}

func (d *Dispatcher) querySensorSerial(cmd *Command) (string, *Error) {
	ch, err := d.channel(cmd)
	if err != nil {
		return "", err
	}
	if s := ch.SensorSerial(); s != "" {
		return s, nil
	}
	return "NONE", nil
}

func calError(err error, channel int) *Error {
	if meter.ErrNoSensor(err) {
		return newError(CodeHardwareMissing, "Hardware missing: no sensor on channel %d", channel)
	}
	return newError(CodeDeviceError, "Calibration error: %v", err)
}

// === System ===

func (d *Dispatcher) queryError(cmd *Command) (string, *Error) {
	return d.errors.Pop(), nil
}

func (d *Dispatcher) queryVersion(cmd *Command) (string, *Error) {
	return d.identity.SCPIVersion, nil
}

func (d *Dispatcher) queryIP(cmd *Command) (string, *Error) {
	if d.net != nil {
		if ip := d.net.IP(); ip != "" {
			return ip, nil
		}
	}
	return "0.0.0.0", nil
}

func (d *Dispatcher) queryMAC(cmd *Command) (string, *Error) {
	if d.net != nil {
		if mac := d.net.MAC(); mac != "" {
			return mac, nil
		}
	}
	return "00:00:00:00:00:00", nil
}
