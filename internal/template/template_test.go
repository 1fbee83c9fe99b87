package template

import (
	"strings"
	"testing"
)

const sampleXML = `<?xml version="1.0"?>
<messageData>
  <domain name="MarketPrice">
    <refreshMsg>
      <field id="22" type="real" value="0"/>
    </refreshMsg>
    <updateMsgList>
      <message><field id="22" type="real" value="100"/></message>
      <message><field id="22" type="real" value="101"/></message>
    </updateMsgList>
    <postMsgList>
      <message><field id="22" type="real" value="200"/></message>
    </postMsgList>
    <genMsgList>
      <message><field id="6" type="time" value="0"/></message>
    </genMsgList>
  </domain>
  <domain name="MarketByOrder">
    <refreshMsg>
      <field id="22" type="real" value="0"/>
      <mapEntry orderId="1"><field id="3427" type="enum" value="1"/></mapEntry>
    </refreshMsg>
    <updateMsgList>
      <message setDefId="1"><mapEntry orderId="1"><field id="3427" type="enum" value="1"/></mapEntry></message>
    </updateMsgList>
  </domain>
</messageData>`

func TestLoadAndRotate(t *testing.T) {
	pool, err := Load(strings.NewReader(sampleXML))
	if err != nil {
		t.Fatal(err)
	}

	it := &Iterator{}
	m1, ok := pool.NextUpdate(DomainMarketPrice, it)
	if !ok {
		t.Fatal("expected update template")
	}
	m2, _ := pool.NextUpdate(DomainMarketPrice, it)
	m3, _ := pool.NextUpdate(DomainMarketPrice, it)
	if m1.Fields[0].Value != "100" || m2.Fields[0].Value != "101" || m3.Fields[0].Value != "100" {
		t.Fatalf("rotation mismatch: %v %v %v", m1, m2, m3)
	}
}

func TestIndependentIterators(t *testing.T) {
	pool, _ := Load(strings.NewReader(sampleXML))
	itA := &Iterator{}
	itB := &Iterator{}
	pool.NextUpdate(DomainMarketPrice, itA)
	pool.NextUpdate(DomainMarketPrice, itA)
	first, _ := pool.NextUpdate(DomainMarketPrice, itB)
	if first.Fields[0].Value != "100" {
		t.Fatalf("iterator B should start fresh, got %v", first)
	}
}

func TestRequireCategory(t *testing.T) {
	pool, _ := Load(strings.NewReader(sampleXML))
	if err := pool.RequireCategory(DomainMarketByOrder, "post", true); err == nil {
		t.Fatal("expected ErrMissingCategory for MarketByOrder posts")
	}
	if err := pool.RequireCategory(DomainMarketPrice, "post", true); err != nil {
		t.Fatal(err)
	}
	if err := pool.RequireCategory(DomainMarketPrice, "post", false); err != nil {
		t.Fatal("should not validate when not needed")
	}
}

func TestMapEntries(t *testing.T) {
	pool, _ := Load(strings.NewReader(sampleXML))
	refresh, ok := pool.Refresh(DomainMarketByOrder)
	if !ok {
		t.Fatal("expected MarketByOrder refresh")
	}
	if len(refresh.MapEntries) != 1 || refresh.MapEntries[0].OrderID != "1" {
		t.Fatalf("unexpected map entries: %+v", refresh.MapEntries)
	}
}
