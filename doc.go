// Package entitle provides an entitlement and usage-metering engine for
// consumer chatbots.
//
// Entitle is designed as a library, not a service. Import it directly
// into your bot process. It provides:
//
//   - Tier resolution combining admin override, paid subscriptions and
//     one-time purchase boosters
//   - Atomic daily/monthly quota tracking with lazy period resets
//   - Single-use credit balances with referral and promo grants
//   - One-shot promo code redemption with per-user dedup
//   - Exactly-once payment reconciliation against a polling gateway
//
// # Quick Start
//
// Create an engine with your preferred store:
//
//	import (
//	    "github.com/vetsage/entitle"
//	    "github.com/vetsage/entitle/store/sqlite"
//	)
//
//	// Initialize store (db is a *grove.DB opened with the sqlite driver)
//	store := sqlite.New(db)
//
//	// Create engine
//	eng := entitle.New(store, entitle.WithGateway(gw))
//
//	// Start the engine (migrates and begins background workers)
//	if err := eng.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer eng.Stop()
//
// # Core Concepts
//
// Every inbound user action follows the same path: resolve the
// effective tier, then check and consume quota in one call:
//
//	eff, _ := eng.ResolveTier(ctx, userID)
//	res, err := eng.CheckQuota(ctx, userID, quota.DailyText, true)
//	if res.Allowed {
//	    // Call the model, picking it by eff.Tier
//	}
//
// Quota decisions and counter increments are a single atomic store
// operation; concurrent requests for the same user can never overshoot
// a limit. Counters reset lazily when their period marker goes stale,
// so there is no scheduled reset job to run.
//
// Grants flow in from three directions: promo codes (RedeemPromo),
// referral bonuses (paid automatically on Register), and gateway
// payments, which a background reconciler claims exactly once per
// payment id before applying.
//
// # Stores
//
// Four Store implementations ship in store/: memory for tests and
// single-process use, sqlite for embedded deployments, postgres for
// servers, and mongo. All enforce the same atomicity contract.
//
// # TypeID
//
// Generated records use TypeID for globally unique, type-safe
// identifiers:
//
//	promo_01h2xcejqtf2nbrexx3vqjhp41  // Promo code ID
//	red_01h2xcejqtf2nbrexx3vqjhp41    // Redemption ID
//	pay_01h455vb4pex5vsknk084sn02q    // Payment claim ID
//
// User IDs are the exception: they come from the messenger platform
// and stay plain int64.
package entitle
