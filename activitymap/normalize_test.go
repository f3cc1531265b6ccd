package activitymap_test

import (
	"testing"
	"time"

	"github.com/goliatone/go-igauth"
	"github.com/goliatone/go-igauth/activitymap"
)

func TestNormalizeDefaults(t *testing.T) {
	t.Parallel()

	ts := time.Date(2026, 1, 10, 9, 30, 0, 0, time.UTC)
	event := igauth.ActivityEvent{
		EventType:         igauth.ActivityEventAccountConnected,
		Provider:          igauth.ProviderInstagramBusiness,
		ExternalAccountID: "17841400000000001",
		Metadata: map[string]any{
			"upgraded": true,
		},
		OccurredAt: ts,
	}

	out := activitymap.Normalize(event)

	if out.ActorID != "system" {
		t.Fatalf("expected actor_id system, got %q", out.ActorID)
	}
	if out.Verb != string(igauth.ActivityEventAccountConnected) {
		t.Fatalf("expected verb %q, got %q", igauth.ActivityEventAccountConnected, out.Verb)
	}
	if out.ObjectType != "instagram_account" {
		t.Fatalf("expected object_type instagram_account, got %q", out.ObjectType)
	}
	if out.ObjectID != "17841400000000001" {
		t.Fatalf("expected object_id 17841400000000001, got %q", out.ObjectID)
	}
	if out.Channel != "igauth" {
		t.Fatalf("expected channel igauth, got %q", out.Channel)
	}
	if !out.OccurredAt.Equal(ts) {
		t.Fatalf("expected occurred_at %v, got %v", ts, out.OccurredAt)
	}
	if out.Metadata["upgraded"] != true {
		t.Fatalf("expected metadata upgraded true, got %#v", out.Metadata["upgraded"])
	}
	if out.Metadata[activitymap.MetadataKeyProvider] != igauth.ProviderInstagramBusiness {
		t.Fatalf("expected metadata provider, got %#v", out.Metadata[activitymap.MetadataKeyProvider])
	}
}

func TestNormalizeActorFromMetadata(t *testing.T) {
	t.Parallel()

	event := igauth.ActivityEvent{
		EventType:         igauth.ActivityEventAccountDisconnected,
		ExternalAccountID: "42",
		Metadata:          map[string]any{"actor": "ops-console"},
	}

	out := activitymap.Normalize(event, activitymap.WithActorFallback("cron"))

	if out.ActorID != "ops-console" {
		t.Fatalf("expected actor_id ops-console, got %q", out.ActorID)
	}
	if _, ok := out.Metadata[activitymap.MetadataKeyActor]; ok {
		t.Fatalf("expected actor key to be lifted out of metadata, got %#v", out.Metadata)
	}
	if out.Metadata != nil {
		t.Fatalf("expected empty metadata to collapse to nil, got %#v", out.Metadata)
	}
}

func TestNormalizeOptionsAndClock(t *testing.T) {
	t.Parallel()

	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.FixedZone("X", 3600))
	event := igauth.ActivityEvent{
		EventType: igauth.ActivityEventTokenRefreshFailed,
		Provider:  igauth.ProviderFacebook,
		Metadata:  map[string]any{"provider": "override"},
	}

	out := activitymap.Normalize(event,
		activitymap.WithDefaultChannel(" audit "),
		activitymap.WithDefaultObjectType("fb_page"),
		activitymap.WithActorFallback("scheduler"),
		activitymap.WithClock(func() time.Time { return fixed }),
	)

	if out.Channel != "audit" {
		t.Fatalf("expected channel audit, got %q", out.Channel)
	}
	if out.ObjectType != "fb_page" {
		t.Fatalf("expected object_type fb_page, got %q", out.ObjectType)
	}
	if out.ActorID != "scheduler" {
		t.Fatalf("expected actor_id scheduler, got %q", out.ActorID)
	}
	if !out.OccurredAt.Equal(fixed) || out.OccurredAt.Location() != time.UTC {
		t.Fatalf("expected occurred_at %v in UTC, got %v", fixed, out.OccurredAt)
	}
	if out.Metadata["provider"] != "override" {
		t.Fatalf("expected explicit provider metadata to win, got %#v", out.Metadata["provider"])
	}
	if out.ObjectID != "" {
		t.Fatalf("expected empty object_id, got %q", out.ObjectID)
	}
}
