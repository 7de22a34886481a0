package op

// RecordVersion is the schema version written into every persisted record.
// Readers accept records with a version at or below this value.
const RecordVersion = 1
