package notify

import (
	"context"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flipstack/pinbot/src/shared/data"
	"github.com/flipstack/pinbot/src/shared/pinmap"
)

type fakeSender struct {
	sent []*discordgo.MessageEmbed
	errs []error
}

func (f *fakeSender) SendEmbed(_ string, embed *discordgo.MessageEmbed) error {
	f.sent = append(f.sent, embed)
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return err
	}
	return nil
}

func machinesCfg() data.ChannelConfig {
	return data.ChannelConfig{ChannelID: "c1", NotificationTypes: data.NotifyMachines}
}

func allCfg() data.ChannelConfig {
	return data.ChannelConfig{ChannelID: "c1", NotificationTypes: data.NotifyAll}
}

func locTarget() data.MonitoringTarget {
	return data.MonitoringTarget{
		TargetKey:    "loc:1309",
		TargetType:   data.TargetLocation,
		LocationID:   1309,
		LocationName: "Ground Kontrol",
	}
}

func TestDispatchFiltersByNotificationType(t *testing.T) {
	sender := &fakeSender{}
	n := New(sender, nil)

	events := []pinmap.Submission{
		{ID: 1, ChangeType: pinmap.ChangeAdded, MachineName: "Godzilla", LocationName: "Ground Kontrol"},
		{ID: 2, ChangeType: pinmap.ChangeComment, MachineName: "Godzilla", LocationName: "Ground Kontrol", Comment: "right flipper weak"},
	}
	n.Dispatch(context.Background(), machinesCfg(), locTarget(), events)

	// The comment is filtered out, so exactly one message goes out.
	require.Len(t, sender.sent, 1)
	assert.Contains(t, sender.sent[0].Title, "Machines added")
	assert.Contains(t, sender.sent[0].Description, "Godzilla")
	assert.NotContains(t, sender.sent[0].Description, "right flipper weak")
}

func TestDispatchGroupsOneMessagePerChangeType(t *testing.T) {
	sender := &fakeSender{}
	n := New(sender, nil)

	events := []pinmap.Submission{
		{ID: 1, ChangeType: pinmap.ChangeAdded, MachineName: "Godzilla"},
		{ID: 2, ChangeType: pinmap.ChangeAdded, MachineName: "Iron Maiden"},
		{ID: 3, ChangeType: pinmap.ChangeRemoved, MachineName: "Twilight Zone"},
		{ID: 4, ChangeType: pinmap.ChangeComment, MachineName: "Godzilla", Comment: "plays great"},
	}
	n.Dispatch(context.Background(), allCfg(), locTarget(), events)

	require.Len(t, sender.sent, 3)
	assert.Contains(t, sender.sent[0].Title, "Machines added")
	assert.Contains(t, sender.sent[0].Description, "Godzilla")
	assert.Contains(t, sender.sent[0].Description, "Iron Maiden")
	assert.Contains(t, sender.sent[1].Title, "Machines removed")
	assert.Contains(t, sender.sent[2].Title, "machine comments")
	assert.Contains(t, sender.sent[2].Footer.Text, "1 change(s)")
}

func TestDispatchNothingAfterFilter(t *testing.T) {
	sender := &fakeSender{}
	n := New(sender, nil)

	events := []pinmap.Submission{
		{ID: 1, ChangeType: pinmap.ChangeComment, Comment: "sticky flipper"},
	}
	n.Dispatch(context.Background(), machinesCfg(), locTarget(), events)

	assert.Empty(t, sender.sent)
}

func TestDispatchSanitizesCommentMarkup(t *testing.T) {
	sender := &fakeSender{}
	n := New(sender, nil)

	events := []pinmap.Submission{
		{ID: 1, ChangeType: pinmap.ChangeComment, MachineName: "Godzilla",
			Comment: `<script>alert("x")</script>left flipper dead`},
	}
	n.Dispatch(context.Background(), allCfg(), locTarget(), events)

	require.Len(t, sender.sent, 1)
	assert.Contains(t, sender.sent[0].Description, "left flipper dead")
	assert.NotContains(t, sender.sent[0].Description, "<script>")
}

func TestFilter(t *testing.T) {
	events := []pinmap.Submission{
		{ID: 1, ChangeType: pinmap.ChangeAdded},
		{ID: 2, ChangeType: pinmap.ChangeRemoved},
		{ID: 3, ChangeType: pinmap.ChangeComment},
	}

	tests := []struct {
		types string
		want  []int64
	}{
		{data.NotifyAll, []int64{1, 2, 3}},
		{"", []int64{1, 2, 3}},
		{data.NotifyMachines, []int64{1, 2}},
		{data.NotifyComments, []int64{3}},
	}
	for _, tt := range tests {
		t.Run(tt.types, func(t *testing.T) {
			var got []int64
			for _, ev := range Filter(tt.types, events) {
				got = append(got, ev.ID)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTargetLabel(t *testing.T) {
	assert.Equal(t, "Ground Kontrol", TargetLabel(locTarget()))

	assert.Equal(t, "location #42", TargetLabel(data.MonitoringTarget{
		TargetType: data.TargetLocation, LocationID: 42,
	}))

	assert.Equal(t, "Portland (25 mi radius)", TargetLabel(data.MonitoringTarget{
		TargetType: data.TargetCoordinates, LocationName: "Portland",
		Latitude: 45.52, Longitude: -122.67, RadiusMiles: 25,
	}))

	assert.Equal(t, "45.5200, -122.6700 (25 mi radius)", TargetLabel(data.MonitoringTarget{
		TargetType: data.TargetCoordinates,
		Latitude:   45.52, Longitude: -122.67, RadiusMiles: 25,
	}))
}

func TestDispatchSendFailureDoesNotPanicOrRetry(t *testing.T) {
	sender := &fakeSender{errs: []error{assert.AnError}}
	n := New(sender, nil)

	events := []pinmap.Submission{
		{ID: 1, ChangeType: pinmap.ChangeAdded, MachineName: "Godzilla"},
		{ID: 2, ChangeType: pinmap.ChangeComment, Comment: "ok"},
	}
	n.Dispatch(context.Background(), allCfg(), locTarget(), events)

	// The failed added-group send is not retried and the comment group still
	// goes out.
	assert.Len(t, sender.sent, 2)
}
