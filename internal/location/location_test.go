package location

import (
	"context"
	"errors"
	"io"
	"math"
	"strings"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const rmcValid = "$GPRMC,220516,A,5133.82,N,00042.24,W,173.8,231.8,130694,004.2,W*70"

func TestParseSentenceRMC(t *testing.T) {
	fix, ok := ParseSentence(rmcValid + "\r\n")
	if !ok {
		t.Fatalf("expected RMC to parse")
	}
	if !fix.Valid() {
		t.Fatalf("expected valid fix, validity %q", fix.Validity)
	}
	if math.Abs(fix.Latitude-51.563667) > 1e-4 || math.Abs(fix.Longitude+0.704) > 1e-4 {
		t.Fatalf("unexpected position %f,%f", fix.Latitude, fix.Longitude)
	}
}

func TestParseSentenceRejectsNoise(t *testing.T) {
	for _, line := range []string{"", "garbage", "$GPRMC,220516,A,5133.82,N*00", "$GPGSA,A,3,,,,,,,,,,,,,1.0,1.0,1.0*30"} {
		if _, ok := ParseSentence(line); ok {
			t.Fatalf("expected %q to be rejected", line)
		}
	}
}

func TestDMS(t *testing.T) {
	lat, lon := Fix{Latitude: 51.5, Longitude: -0.25}.DMS()
	if lat != `51° 30' 0.00" N` {
		t.Fatalf("unexpected latitude %q", lat)
	}
	if lon != `0° 15' 0.00" W` {
		t.Fatalf("unexpected longitude %q", lon)
	}
}

func TestReadFixSkipsUntilValid(t *testing.T) {
	input := strings.Join([]string{
		"noise",
		"$GPRMC,220516,V,5133.82,N,00042.24,W,173.8,231.8,130694,004.2,W*67",
		rmcValid,
		"",
	}, "\n")
	fix, err := ReadFix(context.Background(), strings.NewReader(input))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !fix.Valid() {
		t.Fatalf("expected valid fix")
	}
}

func TestReadFixEOF(t *testing.T) {
	if _, err := ReadFix(context.Background(), strings.NewReader("noise\n")); !errors.Is(err, ErrNoFix) {
		t.Fatalf("expected ErrNoFix, got %v", err)
	}
}

type blockingPort struct {
	closed chan struct{}
}

func (p *blockingPort) Read([]byte) (int, error) {
	<-p.closed
	return 0, io.ErrClosedPipe
}
func (p *blockingPort) Write(b []byte) (int, error) { return len(b), nil }
func (p *blockingPort) Close() error {
	select {
	case <-p.closed:
	default:
		close(p.closed)
	}
	return nil
}

func TestSerialProviderCancel(t *testing.T) {
	port := &blockingPort{closed: make(chan struct{})}
	p := &SerialProvider{PortName: "/dev/null", open: func() (io.ReadWriteCloser, error) { return port, nil }}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := p.Locate(ctx); !errors.Is(err, ErrNoFix) {
		t.Fatalf("expected ErrNoFix, got %v", err)
	}
}

type fakeToken struct{}

func (fakeToken) Wait() bool                     { return true }
func (fakeToken) WaitTimeout(time.Duration) bool { return true }
func (fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (fakeToken) Error() error { return nil }

type fakeMessage struct{ payload []byte }

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 0 }
func (m fakeMessage) Retained() bool    { return true }
func (m fakeMessage) Topic() string     { return "scan/gps" }
func (m fakeMessage) MessageID() uint16 { return 0 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

type fakeSubscriber struct{ handler mqtt.MessageHandler }

func (s *fakeSubscriber) Subscribe(_ string, _ byte, cb mqtt.MessageHandler) mqtt.Token {
	s.handler = cb
	return fakeToken{}
}
func (s *fakeSubscriber) Unsubscribe(...string) mqtt.Token { return fakeToken{} }

func TestMQTTProviderWaitsForValidFix(t *testing.T) {
	sub := &fakeSubscriber{}
	p, err := NewMQTTProvider(sub, "scan/gps")
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	got := make(chan Fix, 1)
	go func() {
		fix, err := p.Locate(context.Background())
		if err == nil {
			got <- fix
		}
	}()

	sub.handler(nil, fakeMessage{payload: []byte(`{"lat":1,"lon":2,"validity":"V"}`)})
	sub.handler(nil, fakeMessage{payload: []byte(`{"lat":45.5,"lon":9.25,"validity":"A"}`)})

	select {
	case fix := <-got:
		if fix.Latitude != 45.5 || fix.Longitude != 9.25 {
			t.Fatalf("unexpected fix %+v", fix)
		}
	case <-time.After(time.Second):
		t.Fatalf("Locate did not return after a valid fix")
	}
}

func TestMQTTProviderTimeout(t *testing.T) {
	p, err := NewMQTTProvider(&fakeSubscriber{}, "scan/gps")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := p.Locate(ctx); !errors.Is(err, ErrNoFix) {
		t.Fatalf("expected ErrNoFix, got %v", err)
	}
}
