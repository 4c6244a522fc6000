package scraper

import (
	"testing"
)

func TestValidTitle(t *testing.T) {
	cases := []struct {
		title string
		want  bool
	}{
		{"", false},
		{"查看", false},
		{"加入購物車", false},
		{"iPhone 15 Pro Max 256G", true},
		{"蘋果智慧型手機旗艦款", true},
		{"   ", false},
		{"短標題", false},
	}
	for _, c := range cases {
		if got := ValidTitle(c.title); got != c.want {
			t.Errorf("ValidTitle(%q) = %v, want %v", c.title, got, c.want)
		}
	}
}

func TestPickLargestPrice(t *testing.T) {
	cases := []struct {
		text string
		want float64
	}{
		{"$12,900", 12900},
		{"滿1,000折100 $25,900", 25900},
		{"熱銷TOP 3 $990", 990},
		{"折扣 5 折", 0},
		{"", 0},
		{"$8", 0},
	}
	for _, c := range cases {
		if got := PickLargestPrice(c.text); got != c.want {
			t.Errorf("PickLargestPrice(%q) = %v, want %v", c.text, got, c.want)
		}
	}
}

func TestPickSalePrice(t *testing.T) {
	cases := []struct {
		name  string
		texts []string
		want  float64
	}{
		{
			name:  "single price",
			texts: []string{"$12,900"},
			want:  12900,
		},
		{
			name:  "sale price is the minimum",
			texts: []string{"$25,900", "$19,900"},
			want:  19900,
		},
		{
			name:  "installment amount excluded from selection",
			texts: []string{"$1,083 x12期", "$12,996", "$15,900"},
			want:  12996,
		},
		{
			name:  "minimum collides with installment, falls back to next",
			texts: []string{"$1,083 每期", "$1,083", "$12,996"},
			want:  12996,
		},
		{
			name:  "out of range numbers ignored",
			texts: []string{"$99", "$99,999,999", "$5,000"},
			want:  5000,
		},
		{
			name:  "nothing usable",
			texts: []string{"限時特賣", "$50"},
			want:  0,
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := PickSalePrice(c.texts); got != c.want {
				t.Errorf("PickSalePrice(%v) = %v, want %v", c.texts, got, c.want)
			}
		})
	}
}

func TestPickDollarPrices(t *testing.T) {
	full := "超值推薦\n$12,900\n$1,075 x12期\n分期 0 利率\n原價 $15,900"
	got := PickDollarPrices(full)
	want := []string{"$12,900", "$15,900"}
	if len(got) != len(want) {
		t.Fatalf("PickDollarPrices returned %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("PickDollarPrices[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestIsBlockedImage(t *testing.T) {
	cases := []struct {
		url  string
		want bool
	}{
		{"", true},
		{"about:blank", true},
		{"https://img1.momoshop.com.tw/goodsimg/0012/345/678.jpg", false},
		{"https://cdn.example.com/placeholder.png", true},
		{"https://www.momoshop.com.tw/ecm/img/offical_tag.png", true},
		{"data:image/gif;base64,R0lGOD", true},
		{"https://cdn.example.com/site-logo.svg", true},
	}
	for _, c := range cases {
		if got := IsBlockedImage(c.url); got != c.want {
			t.Errorf("IsBlockedImage(%q) = %v, want %v", c.url, got, c.want)
		}
	}
}

func TestNormalizeURL(t *testing.T) {
	base := "https://www.momoshop.com.tw"
	cases := []struct {
		raw  string
		want string
	}{
		{"", ""},
		{"https://www.momoshop.com.tw/goods/1", "https://www.momoshop.com.tw/goods/1"},
		{"//img1.momoshop.com.tw/a.jpg", "https://img1.momoshop.com.tw/a.jpg"},
		{"/goods/GoodsDetail.jsp?i_code=123", base + "/goods/GoodsDetail.jsp?i_code=123"},
		{"goods/1", base + "/goods/1"},
	}
	for _, c := range cases {
		if got := NormalizeURL(c.raw, base); got != c.want {
			t.Errorf("NormalizeURL(%q) = %q, want %q", c.raw, got, c.want)
		}
	}
}

func TestNormalizeImageURL(t *testing.T) {
	base := "https://www.momoshop.com.tw"
	imgHost := "https://img1.momoshop.com.tw"
	cases := []struct {
		raw  string
		want string
	}{
		{"https://img1.momoshop.com.tw/a.jpg", "https://img1.momoshop.com.tw/a.jpg"},
		{"//img2.momoshop.com.tw/a.jpg", "https://img2.momoshop.com.tw/a.jpg"},
		{"/goodsimg/a.jpg", base + "/goodsimg/a.jpg"},
		{"goodsimg/a.jpg", imgHost + "/goodsimg/a.jpg"},
		{"img3.momoshop.com.tw/a.jpg", "https://img3.momoshop.com.tw/a.jpg"},
	}
	for _, c := range cases {
		if got := NormalizeImageURL(c.raw, base, imgHost, "momoshop"); got != c.want {
			t.Errorf("NormalizeImageURL(%q) = %q, want %q", c.raw, got, c.want)
		}
	}
}

func TestMomoSKUFromURL(t *testing.T) {
	cases := []struct {
		url  string
		want string
	}{
		{"https://www.momoshop.com.tw/goods/GoodsDetail.jsp?i_code=12345678", "12345678"},
		{"https://www.momoshop.com.tw/goods/12345678", "12345678"},
		{"https://www.momoshop.com.tw/goods/12345678?from=search", "12345678"},
		{"https://www.momoshop.com.tw/goods/12345678.html", "12345678"},
		{"", ""},
	}
	for _, c := range cases {
		if got := MomoSKUFromURL(c.url); got != c.want {
			t.Errorf("MomoSKUFromURL(%q) = %q, want %q", c.url, got, c.want)
		}
	}
}

func TestPChomeSKUFromURL(t *testing.T) {
	cases := []struct {
		url  string
		want string
	}{
		{"https://24h.pchome.com.tw/prod/DYAJCD-A900FQ6RC", "DYAJCD-A900FQ6RC"},
		{"https://24h.pchome.com.tw/prod/DYAJCD-A900FQ6RC?fq=/S/DYAJCD", "DYAJCD-A900FQ6RC"},
		{"https://24h.pchome.com.tw/store/DYAJCD", ""},
	}
	for _, c := range cases {
		if got := PChomeSKUFromURL(c.url); got != c.want {
			t.Errorf("PChomeSKUFromURL(%q) = %q, want %q", c.url, got, c.want)
		}
	}
}

func TestFirstFromSrcset(t *testing.T) {
	cases := []struct {
		value string
		want  string
	}{
		{"https://a.jpg 1x, https://b.jpg 2x", "https://a.jpg"},
		{"https://a.jpg", "https://a.jpg"},
		{"  https://a.jpg 320w", "https://a.jpg"},
	}
	for _, c := range cases {
		if got := FirstFromSrcset(c.value); got != c.want {
			t.Errorf("FirstFromSrcset(%q) = %q, want %q", c.value, got, c.want)
		}
	}
}

func TestClassifyError(t *testing.T) {
	cases := []struct {
		msg  string
		want scrapeErrorType
	}{
		{"invalid session id", errTypeSession},
		{"websocket: close 1006", errTypeSession},
		{"context deadline exceeded while waiting", errTypeTimeout},
		{"net::ERR_CONNECTION_RESET", errTypeNetwork},
		{"response status 403 forbidden", errTypeBlocked},
		{"failed to parse price", errTypeParse},
		{"something odd", errTypeUnknown},
	}
	for _, c := range cases {
		if got := classifyError(errString(c.msg)); got != c.want {
			t.Errorf("classifyError(%q) = %v, want %v", c.msg, got, c.want)
		}
	}
}

type errString string

func (e errString) Error() string { return string(e) }
