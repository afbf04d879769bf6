package model

// MarkKey is the string form of a processed mark, "itemId::orderId".
// Marks themselves live in processed_marks keyed by (item_id, order_id).
func MarkKey(itemID, orderID string) string {
	return itemID + "::" + orderID
}
