// Package qkd implements classical post-processing for quantum key
// distribution: parameter estimation over sifted bits, interactive Cascade
// error reconciliation between a verifier and a corrector, and Toeplitz
// privacy amplification sized by the session's leakage accounting.
//
// The corrector drives reconciliation through the ParityOracle capability;
// KeyOracle answers it in process, and package wire answers it over a
// network connection. Every parity answered moves the session's leakage
// ledger by one bit, and that ledger, together with the QBER confidence
// bound, fixes how short the final key must be hashed.
package qkd
