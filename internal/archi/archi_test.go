package archi

import "testing"

func TestCommCostZeroWithinCluster(t *testing.T) {
	p := NewPlatform()
	c := p.AddCluster("c0")
	pe0, _ := p.AddPE("pe0", c.ID)
	pe1, _ := p.AddPE("pe1", c.ID)
	if got := p.CommCost(pe0.ID, pe1.ID, 1000); got != 0 {
		t.Fatalf("got %d, want 0 for intra-cluster communication", got)
	}
}

func TestCommCostAcrossClusters(t *testing.T) {
	p := NewPlatform()
	c0 := p.AddCluster("c0")
	c1 := p.AddCluster("c1")
	pe0, _ := p.AddPE("pe0", c0.ID)
	pe1, _ := p.AddPE("pe1", c1.ID)
	p.SetClusterCommCost(c0.ID, c1.ID, 2)
	if got := p.CommCost(pe0.ID, pe1.ID, 100); got != 200 {
		t.Fatalf("got %d, want 200", got)
	}
	if got := p.CommCost(pe1.ID, pe0.ID, 100); got != 200 {
		t.Fatalf("expected symmetric comm cost, got %d", got)
	}
}

func TestMappability(t *testing.T) {
	pe := NewPE(0, "pe0", 0)
	if pe.Mappable(3) {
		t.Fatal("expected kernel 3 to be unmappable before any timing is set")
	}
	pe.SetTiming(3, 100)
	if !pe.Mappable(3) {
		t.Fatal("expected kernel 3 to be mappable after SetTiming")
	}
	pe.SetTiming(4, Unmappable)
	if pe.Mappable(4) {
		t.Fatal("expected explicit Unmappable timing to be respected")
	}
}
