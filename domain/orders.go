package domain

// OrderList は order_id で一意な注文の並び（新しい順）です。
type OrderList []Order

// Index は order_id の位置を返します。見つからなければ -1。
func (l OrderList) Index(orderID string) int {
	for i := range l {
		if l[i].OrderID == orderID {
			return i
		}
	}
	return -1
}

// Get は order_id に一致する注文を返します。
func (l OrderList) Get(orderID string) (Order, bool) {
	if i := l.Index(orderID); i >= 0 {
		return l[i], true
	}
	return Order{}, false
}

// Prepend は注文を先頭に追加します。呼び出し側で重複がないことを保証してください。
func (l OrderList) Prepend(o Order) OrderList {
	out := make(OrderList, 0, len(l)+1)
	out = append(out, o)
	return append(out, l...)
}

// Remove は order_id に一致する行を取り除きます。
func (l OrderList) Remove(orderID string) (OrderList, bool) {
	i := l.Index(orderID)
	if i < 0 {
		return l, false
	}
	out := make(OrderList, 0, len(l)-1)
	out = append(out, l[:i]...)
	return append(out, l[i+1:]...), true
}

// AppendPage はページを末尾に追加します。既にある order_id は追加せず、
// 古くない限りページ側の内容で更新します。
func (l OrderList) AppendPage(page []Order) OrderList {
	out := l.Clone()
	for _, o := range page {
		if i := out.Index(o.OrderID); i >= 0 {
			if next, err := out[i].Apply(FullUpdate(o)); err == nil {
				out[i] = next
			}
			continue
		}
		out = append(out, o)
	}
	return out
}

// Clone はスライスのコピーを返します。
func (l OrderList) Clone() OrderList {
	if l == nil {
		return OrderList{}
	}
	out := make(OrderList, len(l))
	copy(out, l)
	return out
}
