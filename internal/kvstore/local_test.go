package kvstore

import "testing"

func TestLocalClientSetGetRoundTrip(t *testing.T) {
	c := NewLocalClient(t.TempDir())

	if err := c.SetValue("default", "INPUT", []byte(`{"a":1}`), "application/json"); err != nil {
		t.Fatalf("SetValue: %v", err)
	}

	data, ct, err := c.GetValue("default", "INPUT")
	if err != nil {
		t.Fatalf("GetValue: %v", err)
	}
	if string(data) != `{"a":1}` {
		t.Fatalf("unexpected data: %s", data)
	}
	if ct != "application/json" {
		t.Fatalf("unexpected content type: %s", ct)
	}
}

func TestLocalClientGetMissingReturnsNil(t *testing.T) {
	c := NewLocalClient(t.TempDir())

	data, _, err := c.GetValue("default", "missing")
	if err != nil {
		t.Fatalf("GetValue: %v", err)
	}
	if data != nil {
		t.Fatalf("expected nil data for missing key, got %v", data)
	}
}

func TestLocalClientDeleteRecord(t *testing.T) {
	c := NewLocalClient(t.TempDir())

	if err := c.SetValue("default", "k", []byte("v"), ""); err != nil {
		t.Fatalf("SetValue: %v", err)
	}
	if err := c.DeleteRecord("default", "k"); err != nil {
		t.Fatalf("DeleteRecord: %v", err)
	}

	data, _, err := c.GetValue("default", "k")
	if err != nil {
		t.Fatalf("GetValue: %v", err)
	}
	if data != nil {
		t.Fatal("expected key to be gone after delete")
	}
}

func TestLocalClientListKeysPagination(t *testing.T) {
	c := NewLocalClient(t.TempDir())

	for _, k := range []string{"a", "b", "c", "d"} {
		if err := c.SetValue("default", k, []byte("x"), ""); err != nil {
			t.Fatalf("SetValue %s: %v", k, err)
		}
	}

	page1, err := c.ListKeys("default", "", 2)
	if err != nil {
		t.Fatalf("ListKeys: %v", err)
	}
	if len(page1.Items) != 2 || !page1.IsTruncated {
		t.Fatalf("expected truncated 2-item page, got %+v", page1)
	}

	page2, err := c.ListKeys("default", page1.NextExclusiveStartKey, 2)
	if err != nil {
		t.Fatalf("ListKeys page2: %v", err)
	}
	if len(page2.Items) != 2 || page2.IsTruncated {
		t.Fatalf("expected final 2-item page, got %+v", page2)
	}
}
