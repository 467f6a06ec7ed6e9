package session

import (
	"errors"
	"sync"
	"testing"

	"github.com/qrdia/dpp-provisioner/internal/model"
)

func info(mac, channel, key string) model.BootstrapInfo {
	return model.BootstrapInfo{MACAddress: mac, Channel: channel, Key: key}
}

func TestUpsertInsertsScanned(t *testing.T) {
	s := NewStore()
	rec, outcome := s.Upsert(info("aa:bb:cc:dd:ee:ff", "6", "KEY123"))
	if outcome != Inserted {
		t.Fatalf("outcome = %s, want inserted", outcome)
	}
	want := model.DeviceRecord{MACAddress: "AA:BB:CC:DD:EE:FF", Channel: "6", Key: "KEY123", Status: model.StatusScanned}
	if rec != want {
		t.Errorf("record = %+v, want %+v", rec, want)
	}
}

func TestUpsertSameMACNeverDuplicates(t *testing.T) {
	s := NewStore()
	s.Upsert(info("AA:BB:CC:DD:EE:FF", "6", "KEY123"))
	s.Upsert(info("11:22:33:44:55:66", "1", "K2"))

	if _, outcome := s.Upsert(info("AA:BB:CC:DD:EE:FF", "6", "KEY123")); outcome != Unchanged {
		t.Errorf("identical rescan outcome = %s, want unchanged", outcome)
	}
	rec, outcome := s.Upsert(info("aa:bb:cc:dd:ee:ff", "11", "KEY999"))
	if outcome != Updated {
		t.Errorf("changed rescan outcome = %s, want updated", outcome)
	}
	if rec.Channel != "11" || rec.Key != "KEY999" {
		t.Errorf("record not overwritten: %+v", rec)
	}

	list := s.List()
	if len(list) != 2 {
		t.Fatalf("len = %d, want 2", len(list))
	}
	if list[0].MACAddress != "AA:BB:CC:DD:EE:FF" || list[0].Channel != "11" {
		t.Errorf("insertion order or update lost: %+v", list)
	}
}

func TestUpsertKeepsStatusExceptError(t *testing.T) {
	s := NewStore()
	s.Upsert(info("AA", "6", "K"))
	if _, err := s.Begin("AA"); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	rec, _ := s.Upsert(info("AA", "11", "K"))
	if rec.Status != model.StatusConfiguring {
		t.Errorf("status during configuring = %s, want configuring", rec.Status)
	}

	s.MarkError("AA")
	rec, outcome := s.Upsert(info("AA", "11", "K"))
	if outcome != Updated || rec.Status != model.StatusScanned {
		t.Errorf("rescan of errored device = %s/%s, want updated/scanned", outcome, rec.Status)
	}
}

func TestBeginGuards(t *testing.T) {
	s := NewStore()
	if _, err := s.Begin("AA"); !errors.Is(err, ErrNotInSession) {
		t.Errorf("Begin(unknown) = %v, want ErrNotInSession", err)
	}

	s.Upsert(info("AA", "6", "K"))
	rec, err := s.Begin("aa")
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if rec.Status != model.StatusConfiguring {
		t.Errorf("Begin status = %s, want configuring", rec.Status)
	}
	if _, err := s.Begin("AA"); !errors.Is(err, ErrAlreadyInProgress) {
		t.Errorf("second Begin = %v, want ErrAlreadyInProgress", err)
	}

	s.MarkError("AA")
	if got, _ := s.Get("AA"); got.Status != model.StatusError {
		t.Errorf("status after MarkError = %s, want error", got.Status)
	}
	if _, err := s.Begin("AA"); err != nil {
		t.Errorf("retry Begin from error = %v, want nil", err)
	}

	s.Complete("AA")
	if s.Len() != 0 {
		t.Errorf("Complete left %d devices in session", s.Len())
	}
}

func TestBeginIsExclusive(t *testing.T) {
	s := NewStore()
	s.Upsert(info("AA", "6", "K"))

	const callers = 32
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
	)
	wg.Add(callers)
	for range callers {
		go func() {
			defer wg.Done()
			if _, err := s.Begin("AA"); err == nil {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if winners != 1 {
		t.Errorf("winners = %d, want 1", winners)
	}
}

func TestMarkErrorAfterClearIsNoop(t *testing.T) {
	s := NewStore()
	s.Upsert(info("AA", "6", "K"))
	s.Begin("AA")
	s.Clear()
	s.MarkError("AA")
	s.Complete("AA")
	if s.Len() != 0 {
		t.Errorf("Len = %d, want 0", s.Len())
	}
}

func TestRemove(t *testing.T) {
	s := NewStore()
	s.Upsert(info("AA", "6", "K"))
	s.Upsert(info("BB", "6", "K"))
	s.Upsert(info("CC", "6", "K"))
	if !s.Remove("bb") {
		t.Fatal("Remove(bb) = false")
	}
	if s.Remove("BB") {
		t.Error("second Remove = true")
	}
	list := s.List()
	if len(list) != 2 || list[0].MACAddress != "AA" || list[1].MACAddress != "CC" {
		t.Errorf("List after remove = %+v", list)
	}
}

func TestListIsSnapshot(t *testing.T) {
	s := NewStore()
	s.Upsert(info("AA", "6", "K"))
	list := s.List()
	list[0].Channel = "mutated"
	if got, _ := s.Get("AA"); got.Channel != "6" {
		t.Errorf("List exposed internal state: channel = %s", got.Channel)
	}
}
