package obdlink

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/banshee-data/obdwatch/internal/failure"
	"github.com/banshee-data/obdwatch/internal/serialmux"
	"github.com/banshee-data/obdwatch/internal/signals"
)

// fakeExchanger replies from a fixed table.
type fakeExchanger struct {
	replies map[string]string
	err     error
	sent    []string
}

func (f *fakeExchanger) Exchange(ctx context.Context, cmd string) (string, error) {
	f.sent = append(f.sent, cmd)
	if f.err != nil {
		return "", f.err
	}
	resp, ok := f.replies[cmd]
	if !ok {
		return "?", nil
	}
	return resp, nil
}

func TestQueryDecoding(t *testing.T) {
	cases := []struct {
		name    string
		signal  string
		reply   string
		want    signals.Value
		unit    string
		wantErr error
	}{
		{"rpm", "RPM", "41 0C 1A F8", signals.Number(1726), "rpm", nil},
		{"echoed command", "RPM", "010C\n41 0C 1A F8", signals.Number(1726), "rpm", nil},
		{"speed", "SPEED", "41 0D 3C", signals.Number(60), "km/h", nil},
		{"coolant", "COOLANT_TEMP", "41 05 7B", signals.Number(83), "degC", nil},
		{"throttle full", "THROTTLE_POS", "41 11 FF", signals.Number(100), "%", nil},
		{"load", "ENGINE_LOAD", "41 04 80", signals.Number(50.2), "%", nil},
		{"pressure", "INTAKE_PRESSURE", "41 0B 5F", signals.Number(95), "kPa", nil},
		{"maf", "MAF", "41 10 01 F4", signals.Number(5), "g/s", nil},
		{"fuel status", "FUEL_STATUS", "41 03 02 00", signals.Opaque("Closed loop"), "", nil},
		{"no data", "RPM", "NO DATA", signals.Value{}, "", ErrNoData},
		{"short reply", "RPM", "41 0C 1A", signals.Value{}, "", ErrBadResponse},
		{"wrong pid", "RPM", "41 0D 3C", signals.Value{}, "", ErrBadResponse},
		{"searching", "SPEED", "SEARCHING...\n41 0D 10", signals.Number(16), "km/h", nil},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			p, _ := Lookup(c.signal)
			ex := &fakeExchanger{replies: map[string]string{p.Command(): c.reply}}
			link := NewLink(ex, time.Second, nil)

			v, unit, err := link.Query(context.Background(), c.signal)
			if c.wantErr != nil {
				if !errors.Is(err, c.wantErr) || !errors.Is(err, failure.ErrQuery) {
					t.Fatalf("Query error = %v, want %v as query failure", err, c.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Query: %v", err)
			}
			if v != c.want || unit != c.unit {
				t.Errorf("Query = %v %q, want %v %q", v, unit, c.want, c.unit)
			}
		})
	}
}

func TestQueryUnknownSignal(t *testing.T) {
	link := NewLink(&fakeExchanger{}, time.Second, nil)
	_, _, err := link.Query(context.Background(), "WARP_FACTOR")
	if !errors.Is(err, ErrUnknownSignal) || !errors.Is(err, failure.ErrQuery) {
		t.Errorf("err = %v", err)
	}
}

func TestExchangeErrorKinds(t *testing.T) {
	cases := []struct {
		err  error
		want error
	}{
		{context.DeadlineExceeded, failure.ErrTimeout},
		{errors.New("port gone"), failure.ErrTransport},
		{failure.Timeout("send", errors.New("slow")), failure.ErrTimeout},
	}
	for _, c := range cases {
		link := NewLink(&fakeExchanger{err: c.err}, time.Second, nil)
		if _, _, err := link.Query(context.Background(), "RPM"); !errors.Is(err, c.want) {
			t.Errorf("exchange error %v surfaced as %v, want %v", c.err, err, c.want)
		}
	}
}

func TestInit(t *testing.T) {
	ex := &fakeExchanger{replies: map[string]string{
		"ATZ": "ELM327 v1.5", "ATE0": "ATE0\nOK", "ATL0": "OK", "ATSP0": "OK",
	}}
	if err := NewLink(ex, time.Second, nil).Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if len(ex.sent) != len(InitSequence) {
		t.Errorf("sent %v", ex.sent)
	}

	ex.replies["ATL0"] = "?"
	err := NewLink(ex, time.Second, nil).Init(context.Background())
	if !errors.Is(err, failure.ErrTransport) {
		t.Errorf("Init with rejected command = %v, want transport failure", err)
	}
}

func TestClear(t *testing.T) {
	ex := &fakeExchanger{replies: map[string]string{"04": "44"}}
	link := NewLink(ex, time.Second, nil)
	if err := link.Clear(context.Background()); err != nil {
		t.Fatalf("Clear: %v", err)
	}

	ex.replies["04"] = "NO DATA"
	if err := link.Clear(context.Background()); !errors.Is(err, failure.ErrQuery) {
		t.Errorf("Clear on NO DATA = %v", err)
	}
	ex.replies["04"] = "41 00"
	if err := link.Clear(context.Background()); !errors.Is(err, ErrBadResponse) {
		t.Errorf("Clear on wrong reply = %v", err)
	}
}

func TestDoDispatch(t *testing.T) {
	ex := &fakeExchanger{replies: map[string]string{
		"010C": "41 0C 0F A0",
		"04":   "44",
		"ATI":  "ELM327 v1.5",
	}}
	link := NewLink(ex, time.Second, nil)
	ctx := context.Background()

	res, err := link.Do(ctx, ReadSignal{Signal: "RPM"})
	if err != nil || res.Value != signals.Number(1000) || res.Unit != "rpm" {
		t.Errorf("ReadSignal = %+v, %v", res, err)
	}
	if _, err := link.Do(ctx, ClearCodes{}); err != nil {
		t.Errorf("ClearCodes: %v", err)
	}
	res, err = link.Do(ctx, RawSend{Payload: []byte("ATI")})
	if err != nil || string(res.Raw) != "ELM327 v1.5" {
		t.Errorf("RawSend = %q, %v", res.Raw, err)
	}
}

func TestLinkOverScriptedPort(t *testing.T) {
	sim := NewSimulator(1)
	port := serialmux.NewScriptedPort(sim.Respond)
	mux := serialmux.New(port)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go mux.Monitor(ctx)
	defer mux.Close()

	link := NewLink(mux, time.Second, nil)
	if err := link.Init(ctx); err != nil {
		t.Fatalf("Init: %v", err)
	}
	for _, name := range []string{"RPM", "SPEED", "INTAKE_PRESSURE", "COOLANT_TEMP"} {
		v, _, err := link.Query(ctx, name)
		if err != nil {
			t.Fatalf("Query(%s): %v", name, err)
		}
		if !v.IsNumeric() {
			t.Errorf("Query(%s) = %v, want numeric", name, v)
		}
	}
	rpm, _, _ := link.Query(ctx, "RPM")
	if f, _ := rpm.Float(); f < 700 || f > 6900 {
		t.Errorf("simulated rpm %v out of range", f)
	}

	payload, err := link.Send(ctx, RawSend{Payload: []byte{0x01, 0x0C}, Framed: true})
	if err != nil {
		t.Fatalf("framed Send: %v", err)
	}
	if len(payload) != 2 || payload[0] != 0x41 || payload[1] != 0x0C {
		t.Errorf("framed reply = % X", payload)
	}

	cmds := port.Commands()
	for i, want := range InitSequence {
		if cmds[i] != want {
			t.Errorf("command %d = %q, want %q", i, cmds[i], want)
		}
	}
}

func TestSimulatorUnknownCommands(t *testing.T) {
	sim := NewSimulator(7)
	cases := map[string]string{
		"0100":  "NO DATA",
		"HELLO": "?",
		"ATSP0": "OK",
		"04":    "44",
	}
	for cmd, want := range cases {
		if got, _ := sim.Respond(cmd); got != want {
			t.Errorf("Respond(%q) = %q, want %q", cmd, got, want)
		}
	}
}

func TestNames(t *testing.T) {
	names := Names()
	if len(names) != len(Catalog) {
		t.Fatalf("Names() = %v", names)
	}
	for i := 1; i < len(names); i++ {
		if names[i-1] >= names[i] {
			t.Errorf("Names() not sorted: %v", names)
		}
	}
}
