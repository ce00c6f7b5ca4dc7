package taxonomy

// Unclassified is the tag returned for any class id without a mapping.
const Unclassified = "Unclassified or No Attack Info"

// UnclassifiedID is the class id the training pipeline reserves for samples
// without attack information.
const UnclassifiedID = 10

// DefaultEntries returns the built-in MITRE ATT&CK-aligned mapping for the
// eleven classes produced by the bundled training pipeline.
func DefaultEntries() []Entry {
	return []Entry{
		{ID: 0, Category: "Normal Activity", Severity: SeverityInfo, Normal: true},
		{ID: 1, Category: "Analysis", Technique: "Reverse Engineering", Severity: SeverityMedium},
		{ID: 2, Category: "Backdoor", Technique: "Command & Control", Severity: SeverityCritical},
		{ID: 3, Category: "DoS", Technique: "Resource Exhaustion", Severity: SeverityHigh},
		{ID: 4, Category: "Exploits", Technique: "Privilege Escalation", Severity: SeverityCritical},
		{ID: 5, Category: "Fuzzers", Technique: "Vulnerability Discovery", Severity: SeverityMedium},
		{ID: 6, Category: "Generic", Technique: "Unknown Signature", Severity: SeverityMedium},
		{ID: 7, Category: "Reconnaissance", Technique: "Info Collection", Severity: SeverityMedium},
		{ID: 8, Category: "Shellcode", Technique: "Remote Execution", Severity: SeverityCritical},
		{ID: 9, Category: "Worms", Technique: "Lateral Movement", Severity: SeverityHigh},
		{ID: UnclassifiedID, Category: Unclassified, Severity: SeverityWarning, Unclassified: true},
	}
}
