package storage

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func strPtr(s string) *string { return &s }
func int64Ptr(n int64) *int64 { return &n }

func TestValidateDestination(t *testing.T) {
	start := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	end := start.Add(2 * time.Hour)

	tests := []struct {
		name    string
		dest    Destination
		field   string
		wantErr bool
	}{
		{
			name: "valid permanent",
			dest: Destination{QRID: "qr1", Type: TypeAlbum, Label: "Album", IsActive: true},
		},
		{
			name: "valid window with url",
			dest: Destination{QRID: "qr1", Type: TypeExternalLink, Label: "Link", TargetURL: strPtr("https://example.com/x"), StartAt: &start, EndAt: &end},
		},
		{
			name:    "start after end",
			dest:    Destination{QRID: "qr1", Type: TypeAlbum, Label: "Album", StartAt: &end, EndAt: &start},
			field:   "end_at",
			wantErr: true,
		},
		{
			name:    "missing qr",
			dest:    Destination{Type: TypeAlbum, Label: "Album"},
			field:   "qr_id",
			wantErr: true,
		},
		{
			name:    "missing label",
			dest:    Destination{QRID: "qr1", Type: TypeAlbum},
			field:   "label",
			wantErr: true,
		},
		{
			name:    "unknown type",
			dest:    Destination{QRID: "qr1", Type: "hologram", Label: "x"},
			field:   "type",
			wantErr: true,
		},
		{
			name:    "loopback url",
			dest:    Destination{QRID: "qr1", Type: TypeExternalLink, Label: "x", TargetURL: strPtr("http://127.0.0.1/admin")},
			field:   "target_url",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateDestination(&tt.dest)
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, ErrValidation)
			var verr *ValidationError
			if assert.True(t, errors.As(err, &verr)) {
				assert.Equal(t, tt.field, verr.Field)
			}
		})
	}
}

func TestValidateTrigger(t *testing.T) {
	tests := []struct {
		name    string
		trigger Trigger
		wantErr bool
	}{
		{
			name:    "on scan activate",
			trigger: Trigger{SourceDestinationID: "d1", Kind: KindOnScan, TargetQRID: "qr2", Action: ActionActivate, TargetDestinationID: strPtr("d2")},
		},
		{
			name:    "on count with threshold",
			trigger: Trigger{SourceDestinationID: "d1", Kind: KindOnCount, Threshold: int64Ptr(5), TargetQRID: "qr2", Action: ActionDeactivate},
		},
		{
			name:    "on count without threshold",
			trigger: Trigger{SourceDestinationID: "d1", Kind: KindOnCount, TargetQRID: "qr2", Action: ActionDeactivate},
			wantErr: true,
		},
		{
			name:    "on count zero threshold",
			trigger: Trigger{SourceDestinationID: "d1", Kind: KindOnCount, Threshold: int64Ptr(0), TargetQRID: "qr2", Action: ActionDeactivate},
			wantErr: true,
		},
		{
			name:    "switch without target destination",
			trigger: Trigger{SourceDestinationID: "d1", Kind: KindOnComplete, TargetQRID: "qr2", Action: ActionSwitch},
			wantErr: true,
		},
		{
			name:    "unknown action",
			trigger: Trigger{SourceDestinationID: "d1", Kind: KindOnScan, TargetQRID: "qr2", Action: "explode"},
			wantErr: true,
		},
		{
			name:    "missing target qr",
			trigger: Trigger{SourceDestinationID: "d1", Kind: KindOnScan, Action: ActionDeactivate},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTrigger(&tt.trigger)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrValidation)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDestinationPatchApply(t *testing.T) {
	start := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)
	d := Destination{Label: "old", IsActive: true, StartAt: &start, EndAt: &end, Priority: 1}

	active := false
	label := "new"
	got := DestinationPatch{Label: &label, IsActive: &active, ClearEndAt: true}.Apply(d)

	assert.Equal(t, "new", got.Label)
	assert.False(t, got.IsActive)
	assert.Nil(t, got.EndAt)
	assert.Equal(t, start, *got.StartAt)
	assert.Equal(t, "old", d.Label, "original must not be modified")
	assert.True(t, DestinationPatch{}.IsEmpty())
}
