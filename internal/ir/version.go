package ir

// EngineVersion is the knot engine version recorded with every journal.
const EngineVersion = "0.1.0"
