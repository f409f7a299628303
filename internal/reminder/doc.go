// Package reminder is the reminder scheduling engine.
//
// A Scheduler wakes on a fixed cadence, reads every event from the store and
// classifies each event's time-until-start into a lead-time Tier. Events that
// fall inside a tier window and whose (event, tier) Key is not yet in the
// Ledger are fanned out to their subscribers through an Attempter, which
// tries an ordered list of delivery Strategies per recipient. A Key is
// recorded once at least one subscriber received the reminder.
package reminder
