package kafka

import "testing"

func TestRegisterAdminFactory_DuplicatePanics(t *testing.T) {
	RegisterAdminFactory(`test-impl-dup`, func(bootstrapServers []string, cfg AdminConfig) (ReadOnlyAdmin, WriteOnlyAdmin, error) {
		return nil, nil, nil
	})

	defer func() {
		if recover() == nil {
			t.Fatalf(`expected panic on duplicate factory registration`)
		}
	}()

	RegisterAdminFactory(`test-impl-dup`, func(bootstrapServers []string, cfg AdminConfig) (ReadOnlyAdmin, WriteOnlyAdmin, error) {
		return nil, nil, nil
	})
}

func TestNewAdmin_UnknownImplementation(t *testing.T) {
	_, _, err := NewAdmin(`does-not-exist`, nil, AdminConfig{})
	if err == nil {
		t.Fatalf(`expected an error for an unregistered admin implementation`)
	}
}
