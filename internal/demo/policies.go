package demo

// policyDocuments is the synthetic policy corpus. All content is fictional.
var policyDocuments = []struct {
	Title    string
	Category string
	Content  string
}{
	{
		Title:    "Transaction Monitoring and Fraud Detection Policy",
		Category: "fraud",
		Content: `This policy outlines the procedures for monitoring customer transactions and detecting potentially fraudulent activity.

SCOPE: All customer accounts across checking, savings, and business account types.

MONITORING CRITERIA:
- Transactions exceeding $5,000 in a single transaction
- Multiple transactions totaling over $10,000 within a 24-hour period
- Transactions occurring between 2 AM and 5 AM local time
- Transactions from foreign merchants without prior travel notification
- Transactions that deviate significantly from established spending patterns

RESPONSE PROTOCOL:
When suspicious activity is detected, the system flags the transaction for review, generates an anomaly report with supporting evidence, retrieves relevant policy documents for context, and drafts a preliminary explanation. If confidence is high (>70%), automated notification proceeds; otherwise the case escalates to the human review team.

All actions must be logged in the audit system with timestamps and decision rationale.`,
	},
	{
		Title:    "Transaction Amount Limits by Account Type",
		Category: "limits",
		Content: `This document defines maximum transaction limits for different account types.

CHECKING ACCOUNTS: single transaction limit $10,000; daily limit $20,000; monthly limit $100,000.
SAVINGS ACCOUNTS: single transaction limit $5,000; daily limit $10,000; monthly limit $50,000. Savings accounts are limited to 6 withdrawal transactions per month.
BUSINESS ACCOUNTS: single transaction limit $50,000; daily limit $100,000; monthly limit $500,000. Higher limits available upon approval.

EXCEPTIONS: Customers may request temporary limit increases for specific purposes such as real estate purchases, business equipment procurement, or international travel. Requests must be submitted 48 hours in advance and require manager approval.`,
	},
	{
		Title:    "Escalation Procedures for Anomalous Transactions",
		Category: "escalation",
		Content: `This policy defines when and how to escalate potentially fraudulent or anomalous transactions.

ESCALATION TRIGGERS:
- Automated system confidence score below 70%
- Transaction amount exceeds account limits by more than 20%
- Multiple anomalies detected for the same customer within 7 days
- Customer has disputed similar transactions in the past
- Transaction involves high-risk merchant categories

ESCALATION LEVELS:
Level 1 (Automated Review): the system generates an explanation and recommendations, the customer receives an automated notification, and the transaction is monitored but not blocked.
Level 2 (Analyst Review): a fraud analyst reviews the case within 4 business hours and may contact the customer directly.
Level 3 (Investigation): the account is placed under enhanced monitoring and a formal investigation is opened.`,
	},
	{
		Title:    "Customer Notification Requirements",
		Category: "escalation",
		Content: `Customers must be notified of flagged transactions according to the following rules.

TIMING: Automated notifications within 15 minutes of detection. Analyst-reviewed cases within 24 hours of resolution.

CONTENT: Notifications must describe the flagged transaction (merchant, amount, time), the reason it was flagged in plain language, and the recommended customer action. Notifications must never include internal scoring details or detection thresholds.

CHANNELS: Email is the default channel. SMS is used for transactions above $1,000 or confirmed fraud.`,
	},
	{
		Title:    "Anomaly Detection Algorithm Parameters",
		Category: "monitoring",
		Content: `This document records the tunable parameters of the transaction anomaly scoring model.

SCORING FACTORS: statistical deviation from the customer's historical amounts, unusual transaction hours (2 AM to 5 AM), foreign merchant indicators, prior labeling in source data, and amounts above five times the customer average.

THRESHOLDS: The default anomaly score threshold is 0.8. Lowering the threshold increases recall at the cost of more false positives. Threshold changes require sign-off from the fraud operations lead and must be recorded in the model governance log.

REVIEW CADENCE: Parameters are reviewed quarterly against labeled outcomes.`,
	},
	{
		Title:    "Data Retention and Audit Trail Policy",
		Category: "monitoring",
		Content: `All automated review activity must be reconstructible after the fact.

AUDIT TRAIL: Every pipeline action (step start, tool invocation, guardrail denial, step completion, and final routing) is recorded as an immutable, ordered event. Audit events are never updated or deleted.

RETENTION: Run records and audit trails are retained for seven years. Customer transaction data is retained per the account agreement.

ACCESS: Audit trails are available to compliance reviewers and, for their own cases, to fraud analysts. Export requires compliance approval.`,
	},
	{
		Title:    "Cross-Border Transaction Monitoring",
		Category: "fraud",
		Content: `Transactions involving foreign merchants receive additional scrutiny.

INDICATORS: Merchant identifiers carrying foreign country prefixes, currency conversions, and first-time foreign merchants for the account.

HANDLING: A single foreign transaction consistent with the customer's travel profile is a weak signal. Multiple foreign transactions in a short window, or foreign transactions combined with odd-hour activity, warrant elevated anomaly scores and possible escalation.`,
	},
	{
		Title:    "Incident Response for False Positives",
		Category: "escalation",
		Content: `When a flagged transaction is confirmed legitimate, the case must be closed cleanly.

STEPS: Mark the case resolved with the reason recorded, notify the customer that no action is needed, and feed the outcome back into the quarterly parameter review. Repeated false positives for the same customer profile should prompt a review of that profile's baseline statistics.`,
	},
}
