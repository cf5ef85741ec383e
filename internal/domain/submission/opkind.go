package submission

// OperationKindFor classifies an upload against the current chain state.
// chain must contain every member including doc and the base.
func OperationKindFor(doc *Document, chain []*Document) OperationKind {
	if doc.IsBase() {
		return OperationCreate
	}
	if !doc.AmountResidual.IsZero() {
		return OperationModify
	}
	for _, member := range chain {
		if !member.AmountResidual.IsZero() {
			return OperationModify
		}
	}
	return OperationStorno
}
