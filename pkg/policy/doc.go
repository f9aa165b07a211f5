// Package policy is the AIBDP decision engine. It resolves which manifest
// entry governs a request, checks the evidence a conditional entry asks for,
// and encodes the outcome as a Decision that the HTTP layer either ignores
// (continue) or writes out as a 430 Consent Required response.
//
// Everything in this package is a pure function of a manifest snapshot and
// request metadata. Evaluation never blocks and never fails: internal faults
// degrade to Continue, because wrongly blocking legitimate traffic is worse
// than under-enforcing a policy.
package policy
