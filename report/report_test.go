package report

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/go-cmp/cmp"
	"touchdiag.com/diag"
	"touchdiag.com/driver/cts"
	"touchdiag.com/grid"
)

func testReport() *Report {
	r := New("i2c-1@48", cts.ChipID, grid.Dims{Rows: 16, Cols: 28}, time.Unix(1700000000, 0))
	r.Add(diag.ResetPin, diag.Result{Elapsed: 112 * time.Millisecond})
	r.Add(diag.Open, diag.Result{Failed: 3, Elapsed: 840 * time.Millisecond})
	r.Add(diag.Short, diag.Result{Err: cts.ErrTimeout, Elapsed: 2 * time.Second})
	return r
}

func TestAdd(t *testing.T) {
	r := testReport()
	want := []Entry{
		{Test: "Reset-Pin", Code: 0, ElapsedMS: 112},
		{Test: "Open", Code: 3, ElapsedMS: 840},
		{Test: "Short", Code: -110, ElapsedMS: 2000, Error: cts.ErrTimeout.Error()},
	}
	if diff := cmp.Diff(want, r.Tests); diff != "" {
		t.Errorf("entries mismatch (-want +got):\n%s", diff)
	}
	if r.Passed() {
		t.Error("failing report passed")
	}
	if !(&Report{Tests: want[:1]}).Passed() {
		t.Error("passing report failed")
	}
}

func TestEncode(t *testing.T) {
	r := testReport()
	b1, err := r.Encode()
	if err != nil {
		t.Fatal(err)
	}
	b2, err := testReport().Encode()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(b1, b2) {
		t.Errorf("encoding not deterministic:\n%x\n%x", b1, b2)
	}
	got, err := Decode(b1)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(r, got); diff != "" {
		t.Errorf("decoded report mismatch (-want +got):\n%s", diff)
	}
	if _, err := Decode(b1[:len(b1)-1]); err == nil {
		t.Error("truncated report decoded")
	}
}

func TestTable(t *testing.T) {
	out := testReport().Table()
	for _, want := range []string{"i2c-1@48 16x28", "Reset-Pin", "PASS", "3 FAIL", "-110", "2000ms"} {
		if !strings.Contains(out, want) {
			t.Errorf("table lacks %q:\n%s", want, out)
		}
	}
}

type fakeToken struct {
	done chan struct{}
	err  error
}

func (t *fakeToken) Wait() bool {
	<-t.done
	return true
}

func (t *fakeToken) WaitTimeout(d time.Duration) bool {
	select {
	case <-t.done:
		return true
	case <-time.After(d):
		return false
	}
}

func (t *fakeToken) Done() <-chan struct{} { return t.done }
func (t *fakeToken) Error() error          { return t.err }

type fakeClient struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
	complete bool
	err      error
}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.topic, c.qos, c.retained = topic, qos, retained
	c.payload = payload.([]byte)
	tok := &fakeToken{done: make(chan struct{}), err: c.err}
	if c.complete {
		close(tok.done)
	}
	return tok
}

func TestPublish(t *testing.T) {
	c := &fakeClient{complete: true}
	p := NewPublisher(c, "factory/touch/selftest")
	r := testReport()
	if err := p.Publish(r); err != nil {
		t.Fatal(err)
	}
	if c.topic != "factory/touch/selftest" || c.qos != 1 || c.retained {
		t.Errorf("published to %q with qos %d, retained %v", c.topic, c.qos, c.retained)
	}
	got, err := Decode(c.payload)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(r, got); diff != "" {
		t.Errorf("published report mismatch (-want +got):\n%s", diff)
	}
}

func TestPublishFailure(t *testing.T) {
	broker := errors.New("not authorized")
	p := NewPublisher(&fakeClient{complete: true, err: broker}, "t")
	if err := p.Publish(testReport()); !errors.Is(err, broker) {
		t.Errorf("publish returned %v, want %v", err, broker)
	}

	p = NewPublisher(&fakeClient{}, "t")
	p.Timeout = time.Millisecond
	if err := p.Publish(testReport()); !errors.Is(err, ErrTimeout) {
		t.Errorf("publish returned %v, want timeout", err)
	}
}
