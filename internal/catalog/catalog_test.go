package catalog

import "testing"

func TestDefaultCatalogKeys(t *testing.T) {
	c := Default()
	tests := []struct {
		sku  string
		want Key
	}{
		{DefaultConsumableSKU, KeyCredits},
		{DefaultBlueSKU, KeyBlue},
		{DefaultPurpleSKU, KeyPurple},
		{DefaultGreenSKU, KeyGreen},
		{DefaultParentSubscriptionSKU, KeySubscription},
		{DefaultChildSubscriptionSKU, KeySubscription},
	}
	for _, tt := range tests {
		t.Run(tt.sku, func(t *testing.T) {
			got, ok := c.KeyFor(tt.sku)
			if !ok {
				t.Fatalf("sku %q not found", tt.sku)
			}
			if got != tt.want {
				t.Fatalf("key=%q, want %q", got, tt.want)
			}
		})
	}

	if _, ok := c.KeyFor("com.example.unknown"); ok {
		t.Fatal("expected unknown sku to be absent")
	}
	if len(c.All()) != 6 {
		t.Fatalf("expected 6 skus, got %d", len(c.All()))
	}
}

func TestNewRejectsInvalidTables(t *testing.T) {
	t.Run("empty sku", func(t *testing.T) {
		skus := DefaultSKUs()
		skus.Green = " "
		if _, err := New(skus); err == nil {
			t.Fatal("expected error for empty sku")
		}
	})
	t.Run("duplicate sku", func(t *testing.T) {
		skus := DefaultSKUs()
		skus.Purple = skus.Blue
		if _, err := New(skus); err == nil {
			t.Fatal("expected error for duplicate sku")
		}
	})
}

func TestKeyIsFlag(t *testing.T) {
	for _, k := range []Key{KeyBlue, KeyPurple, KeyGreen, KeySubscription} {
		if !k.IsFlag() {
			t.Fatalf("expected %q to be a flag", k)
		}
	}
	for _, k := range []Key{KeyCredits, KeyOffset, KeyStartDate} {
		if k.IsFlag() {
			t.Fatalf("expected %q not to be a flag", k)
		}
	}
}
