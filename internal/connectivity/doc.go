// Package connectivity turns a platform reachability signal into a stream of
// state transitions.
//
// A Monitor listens to a Source once the first subscriber registers.
// Subscribers are called synchronously, in registration order, on every
// change of state. Repeated observations of the same state are suppressed.
//
// Sources:
//   - ChannelSource: pushed programmatically by the embedding application
//   - ProbeSource: periodic HTTP reachability checks
//   - FileSource: a status file rewritten by a platform network hook
package connectivity
