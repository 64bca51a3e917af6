// Package model defines the challenge domain types and their state machine.
package model
